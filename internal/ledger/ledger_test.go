package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHashIsStableWithinBucket(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	a := Hash("u1", "reminder", "call john", base)
	b := Hash("u1", "reminder", "call john", base.Add(40*time.Minute))
	if a != b {
		t.Fatalf("hashes differ within one hour bucket: %q vs %q", a, b)
	}

	c := Hash("u1", "reminder", "call john", base.Add(2*time.Hour))
	if a == c {
		t.Fatalf("hashes equal across distant buckets")
	}
	if Hash("u2", "reminder", "call john", base) == a {
		t.Fatalf("hash ignores user id")
	}
}

func TestHashesCoverBucketBoundary(t *testing.T) {
	// 10:59 and 11:01 are one minute apart but in different hour buckets.
	before := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	after := time.Date(2026, 3, 1, 11, 1, 0, 0, time.UTC)

	hashBefore := Hash("u1", "reminder", "call john", before)
	_, prev := Hashes("u1", "reminder", "call john", after)
	if prev != hashBefore {
		t.Fatalf("previous-bucket hash = %q, want %q", prev, hashBefore)
	}
}

func TestMemoryStoreReserveIsFirstWriterWins(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	h := Hash("u1", "task", "pack bags", now)

	rec, created, err := s.Reserve(context.Background(), h, now)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !created {
		t.Fatalf("first Reserve() created = false, want true")
	}
	if rec.Status != StatusPending {
		t.Fatalf("status = %q, want %q", rec.Status, StatusPending)
	}

	again, created, err := s.Reserve(context.Background(), h, now.Add(time.Second))
	if err != nil {
		t.Fatalf("second Reserve() error = %v", err)
	}
	if created {
		t.Fatalf("second Reserve() created = true, want false")
	}
	if again.CreatedAt != rec.CreatedAt {
		t.Fatalf("second Reserve() returned a different record")
	}
}

func TestMemoryStoreMarkExecutedStoresReplayResult(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	h := Hash("u1", "task", "pack bags", now)

	if _, _, err := s.Reserve(context.Background(), h, now); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := s.MarkExecuted(context.Background(), h, `{"task_id":"t1"}`, now); err != nil {
		t.Fatalf("MarkExecuted() error = %v", err)
	}

	rec, err := s.Get(context.Background(), h)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Status != StatusExecuted {
		t.Fatalf("status = %q, want %q", rec.Status, StatusExecuted)
	}
	if rec.Result != `{"task_id":"t1"}` {
		t.Fatalf("result = %q, want stored snapshot", rec.Result)
	}

	// Marking twice is a no-op, not an error.
	if err := s.MarkExecuted(context.Background(), h, `{"task_id":"other"}`, now); err != nil {
		t.Fatalf("second MarkExecuted() error = %v", err)
	}
	rec, _ = s.Get(context.Background(), h)
	if rec.Result != `{"task_id":"t1"}` {
		t.Fatalf("result overwritten on replay: %q", rec.Result)
	}
}

func TestMemoryStoreGetUnknownHash(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Get() error = %v, want ErrRecordNotFound", err)
	}
}
