// Package audit persists one record per release at its terminal status.
// The persistence strategy is pluggable: sqlite via gorm, flat JSON files,
// or nothing at all.
package audit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Record is the audit row written exactly once per release.
type Record struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Release     time.Time      `json:"release"`
	Context     map[string]any `json:"context"`
	RunID       string         `json:"run_id"`
	ParentRunID string         `json:"parent_run_id,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Store persists audit records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Close() error
}

// Nop discards audit records; used when auditing is disabled.
type Nop struct{}

func (Nop) Save(context.Context, Record) error { return nil }
func (Nop) Close() error                       { return nil }

// FromURL builds a store from an audit URL: sqlite://<path> or
// file://<dir>. An empty URL disables auditing.
func FromURL(rawURL string) (Store, error) {
	if rawURL == "" {
		return Nop{}, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid audit URL %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "sqlite":
		return NewSQLiteStore(strings.TrimPrefix(rawURL, "sqlite://"))
	case "file":
		return NewFileStore(strings.TrimPrefix(rawURL, "file://"))
	default:
		return nil, fmt.Errorf("unsupported audit store scheme %q", u.Scheme)
	}
}
