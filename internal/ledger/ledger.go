// Package ledger records one row per action fingerprint so an action is
// executed at most once and duplicate requests replay the stored result.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
)

var ErrRecordNotFound = errors.New("ledger record not found")

type Record struct {
	ActionHash string    `json:"action_hash"`
	Status     Status    `json:"status"`
	Result     string    `json:"result,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Hash fingerprints "who does what, roughly when". The payload's semantic
// summary is used instead of full payload equality so near-duplicate
// requests collapse, and the timestamp is truncated to the hour bucket.
func Hash(userID, kind, summary string, t time.Time) string {
	bucket := t.UTC().Truncate(time.Hour).Format(time.RFC3339)
	sum := sha256.Sum256([]byte(userID + "|" + kind + "|" + summary + "|" + bucket))
	return hex.EncodeToString(sum[:])
}

// Hashes returns the fingerprint for t's bucket and for the previous one.
// Lookups consult both so requests a minute apart across a bucket boundary
// still collapse; writes always use the current bucket.
func Hashes(userID, kind, summary string, t time.Time) (current, previous string) {
	return Hash(userID, kind, summary, t),
		Hash(userID, kind, summary, t.Add(-time.Hour))
}

type Store interface {
	// Reserve inserts a pending record for hash if none exists. It returns
	// the record now present and whether this call created it; a false
	// return means another execution already owns the hash.
	Reserve(ctx context.Context, hash string, now time.Time) (Record, bool, error)
	// MarkExecuted finalizes a reserved record with the provider result.
	MarkExecuted(ctx context.Context, hash, result string, now time.Time) error
	Get(ctx context.Context, hash string) (Record, error)
	Close() error
}

func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, hash string, now time.Time) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[hash]; ok {
		return existing, false, nil
	}
	rec := Record{
		ActionHash: hash,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.records[hash] = rec
	return rec, true, nil
}

func (s *MemoryStore) MarkExecuted(_ context.Context, hash, result string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[hash]
	if !ok {
		return ErrRecordNotFound
	}
	if rec.Status == StatusExecuted {
		return nil
	}
	rec.Status = StatusExecuted
	rec.Result = result
	rec.UpdatedAt = now
	s.records[hash] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, hash string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[hash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
