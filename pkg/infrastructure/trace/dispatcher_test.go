package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects events; gate blocks Write until released so tests
// can fill the dispatcher queue.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	gate   chan struct{}
	closed bool
}

func (s *recordingSink) Write(ev Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(zerolog.Nop(), 16, sink)

	for i := 0; i < 5; i++ {
		d.Emit(Event{RunID: "run-1", Message: string(rune('a' + i))})
	}
	d.Close()

	events := sink.snapshot()
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, string(rune('a'+i)), ev.Message)
	}
	assert.True(t, sink.closed)
}

func TestDispatcherDropsOldestWhenFull(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	d := NewDispatcher(zerolog.Nop(), 2, sink)

	// One event is in the sink's Write, the queue holds two more; the next
	// emits push the oldest queued events out.
	for i := 0; i < 6; i++ {
		d.Emit(Event{Message: string(rune('a' + i))})
	}
	close(sink.gate)
	d.Close()

	events := sink.snapshot()
	require.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 4, "overflow drops events instead of blocking")
	last := events[len(events)-1]
	assert.Equal(t, "f", last.Message, "the newest event survives")
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(zerolog.Nop(), 4, sink)
	d.Close()

	d.Emit(Event{Message: "late"}) // must not panic on the closed queue
	d.Close()                      // idempotent

	assert.Empty(t, sink.snapshot())
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	d := NewDispatcher(zerolog.Nop(), 16, sink)
	d.Emit(Event{RunID: "run-1", Level: LevelInfo, Message: "started", Timestamp: time.Now().UTC()})
	d.Emit(Event{RunID: "run-1", Level: LevelError, Message: "boom", Exception: "stage failed"})
	d.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		lines = append(lines, ev)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "started", lines[0].Message)
	assert.Equal(t, LevelError, lines[1].Level)
	assert.Equal(t, "stage failed", lines[1].Exception)
}

func TestSinkFromURL(t *testing.T) {
	sink, err := SinkFromURL("", zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ZerologSink{}, sink)

	sink, err = SinkFromURL("console://", zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ZerologSink{}, sink)

	sink, err = SinkFromURL("file://"+filepath.Join(t.TempDir(), "t.jsonl"), zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, sink)
	require.NoError(t, sink.Close())

	_, err = SinkFromURL("kafka://broker", zerolog.Nop())
	assert.Error(t, err)
}
