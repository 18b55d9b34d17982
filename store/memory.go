package store

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries is the retention bound for the in-memory store.
const DefaultMaxEntries = 10000

// MemoryAuditStore implements AuditStore in memory. It is the default when
// no database is configured, with bounded retention: once full, the oldest
// entry is evicted per insert.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

// NewMemoryAuditStore creates an in-memory store with the default retention
// bound.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{max: DefaultMaxEntries}
}

// NewMemoryAuditStoreWithLimit creates an in-memory store retaining at most
// max entries.
func NewMemoryAuditStoreWithLimit(max int) *MemoryAuditStore {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &MemoryAuditStore{max: max}
}

// Record stores one run.
func (m *MemoryAuditStore) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	if len(m.entries) > m.max {
		m.entries = m.entries[len(m.entries)-m.max:]
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (m *MemoryAuditStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}

	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

// CountByLabel aggregates label occurrences across all retained runs.
func (m *MemoryAuditStore) CountByLabel(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range m.entries {
		for label, n := range e.Labels {
			counts[label] += n
		}
	}
	return counts, nil
}

// Cleanup removes entries older than olderThan.
func (m *MemoryAuditStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	var removed int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

// Close implements AuditStore.
func (m *MemoryAuditStore) Close() error {
	return nil
}
