// Package audit keeps an append-only trail of pipeline activity.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeActionExecuted   Type = "action_executed"
	TypeUpsellImpression Type = "upsell_impression"
	TypeZombieSweep      Type = "zombie_sweep"
)

type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Type       Type      `json:"type"`
	RefID      string    `json:"ref_id,omitempty"`
	ActionHash string    `json:"action_hash,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, userID string, limit int) ([]Record, error)
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
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, limit)
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
