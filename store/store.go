// Package store persists an audit trail of anonymization runs. Only a
// digest of the input and the detected label statistics are recorded, never
// the text itself.
package store

import (
	"context"
	"time"
)

// Entry is one recorded anonymization run.
type Entry struct {
	ID          string         `json:"id"`          // request UUID
	TextSHA256  string         `json:"text_sha256"` // hex digest of the input text
	Detector    string         `json:"detector"`    // provider name that served the run
	EntityCount int            `json:"entity_count"`
	Labels      map[string]int `json:"labels"` // label -> occurrences in this run
	DurationMS  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AuditStore records and queries anonymization runs.
type AuditStore interface {
	// Record stores one run.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// CountByLabel aggregates substituted label occurrences across all runs.
	CountByLabel(ctx context.Context) (map[string]int, error)

	// Cleanup removes entries older than the given duration and returns the
	// number removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close releases the underlying resources.
	Close() error
}
