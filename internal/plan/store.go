package plan

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidState is returned when a status transition is attempted from
	// a status other than the expected one. Terminal plans never transition.
	ErrInvalidState = errors.New("invalid plan state")
)

type Store interface {
	Save(ctx context.Context, p Plan) error
	Get(ctx context.Context, planID string) (Plan, error)
	// GetByActionHash resolves the newest plan owned by userID with the
	// given fingerprint; the execute-by-hash API depends on it.
	GetByActionHash(ctx context.Context, userID, actionHash string) (Plan, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Plan, error)
	ListWaitingApproval(ctx context.Context, limit int) ([]Plan, error)
	// UpdateStatus transitions planID from expected `from` to `to` as a
	// single conditional update. A plan in any other status fails with
	// ErrInvalidState; this is the sole write path for lifecycle changes.
	UpdateStatus(ctx context.Context, planID string, from, to Status, result, errMsg string, now time.Time) (Plan, error)
	SetSkipUntil(ctx context.Context, planID string, until time.Time, now time.Time) (Plan, error)
	// SetPayload replaces the payload and its recomputed fingerprint in
	// one write; an edited plan must never keep the old hash.
	SetPayload(ctx context.Context, planID string, payload json.RawMessage, actionHash string, now time.Time) error
	Close() error
}

// NewStore returns a Postgres-backed store when databaseURL is set and nil
// otherwise, in which case callers fall back to the in-memory store.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// MemoryStore keeps plans in process memory. It backs tests and
// single-node runs without DATABASE_URL.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]Plan)}
}

func (s *MemoryStore) Save(_ context.Context, p Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, planID string) (Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetByActionHash(_ context.Context, userID, actionHash string) (Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found Plan
		ok    bool
	)
	for _, p := range s.plans {
		if p.UserID != userID || p.ActionHash != actionHash {
			continue
		}
		if !ok || p.CreatedAt.After(found.CreatedAt) {
			found = p
			ok = true
		}
	}
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return found.Clone(), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if p.UserID == userID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListWaitingApproval(_ context.Context, limit int) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Plan, 0, 8)
	for _, p := range s.plans {
		if p.Status == StatusWaitingApproval {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, planID string, from, to Status, result, errMsg string, now time.Time) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	if p.Status != from {
		return Plan{}, ErrInvalidState
	}
	p.Status = to
	p.UpdatedAt = now
	if result != "" {
		p.Result = result
	}
	if errMsg != "" {
		p.Error = errMsg
	}
	if to == StatusExecuted {
		t := now
		p.ExecutedAt = &t
	}
	s.plans[planID] = p
	return p.Clone(), nil
}

func (s *MemoryStore) SetSkipUntil(_ context.Context, planID string, until time.Time, now time.Time) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	p.SkipUntil = &until
	p.UpdatedAt = now
	s.plans[planID] = p
	return p.Clone(), nil
}

func (s *MemoryStore) SetPayload(_ context.Context, planID string, payload json.RawMessage, actionHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	p.Payload = append(json.RawMessage(nil), payload...)
	p.ActionHash = actionHash
	p.UpdatedAt = now
	s.plans[planID] = p
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
