package trace

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologSink writes events through a zerolog logger, mapping event levels
// onto log levels.
type ZerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink creates the default console sink.
func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger}
}

func (s *ZerologSink) Write(ev Event) error {
	var entry *zerolog.Event
	switch ev.Level {
	case LevelDebug:
		entry = s.logger.Debug()
	case LevelWarn:
		entry = s.logger.Warn()
	case LevelError:
		entry = s.logger.Error()
	default:
		entry = s.logger.Info()
	}
	entry = entry.
		Str("run_id", ev.RunID).
		Str("cut_id", ev.CutID).
		Str("workflow", ev.Workflow).
		Time("ts", ev.Timestamp)
	if ev.ParentRunID != "" {
		entry = entry.Str("parent_run_id", ev.ParentRunID)
	}
	if ev.Job != "" {
		entry = entry.Str("job", ev.Job)
	}
	if ev.Stage != "" {
		entry = entry.Str("stage", ev.Stage)
	}
	if ev.DurationMS > 0 {
		entry = entry.Int64("duration_ms", ev.DurationMS)
	}
	if ev.Exception != "" {
		entry = entry.Str("exception", ev.Exception)
	}
	entry.Msg(ev.Message)
	return nil
}

func (s *ZerologSink) Close() error { return nil }

// FileSink appends events as JSON lines.
type FileSink struct {
	file *os.File
	enc  *json.Encoder
}

// NewFileSink opens (or creates) the trace file for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file %s: %w", path, err)
	}
	return &FileSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *FileSink) Write(ev Event) error { return s.enc.Encode(ev) }

func (s *FileSink) Close() error { return s.file.Close() }

// SinkFromURL builds a sink from a trace URL: console:// (default) or
// file://<path>.
func SinkFromURL(rawURL string, logger zerolog.Logger) (Sink, error) {
	if rawURL == "" || rawURL == "console://" {
		return NewZerologSink(logger), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid trace URL %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "console":
		return NewZerologSink(logger), nil
	case "file":
		return NewFileSink(strings.TrimPrefix(rawURL, "file://"))
	default:
		return nil, fmt.Errorf("unsupported trace sink scheme %q", u.Scheme)
	}
}
