package store

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryAuditStoreRecordRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()

	for i := 0; i < 3; i++ {
		err := s.Record(ctx, Entry{
			ID:          fmt.Sprintf("req-%d", i),
			TextSHA256:  "abc",
			Detector:    "static",
			EntityCount: i,
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	entries, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "req-2" || entries[1].ID != "req-1" {
		t.Errorf("entries not newest-first: %s, %s", entries[0].ID, entries[1].ID)
	}
}

func TestMemoryAuditStoreRetentionBound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStoreWithLimit(5)

	for i := 0; i < 20; i++ {
		if err := s.Record(ctx, Entry{ID: fmt.Sprintf("req-%d", i)}); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	entries, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	if entries[0].ID != "req-19" {
		t.Errorf("newest entry = %s, want req-19", entries[0].ID)
	}
}

func TestMemoryAuditStoreCountByLabel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()

	if err := s.Record(ctx, Entry{ID: "a", Labels: map[string]int{"PERSON": 2, "LOCATION": 1}}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := s.Record(ctx, Entry{ID: "b", Labels: map[string]int{"PERSON": 1}}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	counts, err := s.CountByLabel(ctx)
	if err != nil {
		t.Fatalf("CountByLabel returned error: %v", err)
	}
	if counts["PERSON"] != 3 {
		t.Errorf("PERSON = %d, want 3", counts["PERSON"])
	}
	if counts["LOCATION"] != 1 {
		t.Errorf("LOCATION = %d, want 1", counts["LOCATION"])
	}
}

func TestMemoryAuditStoreCleanup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()

	old := Entry{ID: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := Entry{ID: "fresh", CreatedAt: time.Now()}
	if err := s.Record(ctx, old); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := s.Record(ctx, fresh); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	removed, err := s.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	entries, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "fresh" {
		t.Errorf("remaining entries = %+v, want only fresh", entries)
	}
}
