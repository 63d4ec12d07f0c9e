// Package trace carries the structured tracer events the execution core
// emits. Sinks are pluggable; the dispatcher buffers events so the core
// never blocks on sink back-pressure.
package trace

import (
	"time"
)

// Level classifies a tracer event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one structured tracer record.
type Event struct {
	RunID       string    `json:"run_id"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	Level       Level     `json:"level"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	CutID       string    `json:"cut_id"`
	Workflow    string    `json:"workflow"`
	Job         string    `json:"job,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	Exception   string    `json:"exception,omitempty"`
}

// Sink receives tracer events. Implementations must tolerate concurrent
// calls from the dispatcher goroutine only.
type Sink interface {
	Write(ev Event) error
	Close() error
}

// Tracer is the narrow interface the execution core emits against.
type Tracer interface {
	Emit(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(Event) {}
