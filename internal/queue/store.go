package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrItemNotFound = errors.New("queue item not found")
	// ErrAlreadyClaimed means the conditional claim matched nothing:
	// another worker owns the item, or it already finished.
	ErrAlreadyClaimed = errors.New("queue item already claimed")
)

type Store interface {
	Enqueue(ctx context.Context, item Item) error
	// Claim transitions one item from scheduled to running. The update is
	// conditional on the current status; losing the race returns
	// ErrAlreadyClaimed. This is the pipeline's only concurrency guard.
	Claim(ctx context.Context, itemID string, now time.Time) (Item, error)
	// ClaimDue claims up to limit items whose scheduled_for has passed.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Item, error)
	// Finish moves a running item to executed or failed.
	Finish(ctx context.Context, itemID string, status Status, result, errMsg string, now time.Time) (Item, error)
	Get(ctx context.Context, itemID string) (Item, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
	Close() error
}

func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Item)}
}

func (s *MemoryStore) Enqueue(_ context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, itemID string, now time.Time) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimLocked(itemID, now)
}

func (s *MemoryStore) claimLocked(itemID string, now time.Time) (Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	if item.Status != StatusScheduled {
		return Item{}, ErrAlreadyClaimed
	}
	item.Status = StatusRunning
	item.UpdatedAt = now
	s.items[itemID] = item
	return item.Clone(), nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 25
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]Item, 0, limit)
	for _, item := range s.items {
		if item.Status == StatusScheduled && !item.ScheduledFor.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if limit < len(due) {
		due = due[:limit]
	}

	claimed := make([]Item, 0, len(due))
	for _, item := range due {
		c, err := s.claimLocked(item.ID, now)
		if err != nil {
			continue
		}
		claimed = append(claimed, c)
	}
	return claimed, nil
}

func (s *MemoryStore) Finish(_ context.Context, itemID string, status Status, result, errMsg string, now time.Time) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	if item.Status != StatusRunning {
		return Item{}, ErrAlreadyClaimed
	}
	item.Status = status
	item.Result = result
	item.Error = errMsg
	item.UpdatedAt = now
	s.items[itemID] = item
	return item.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, itemID string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item.Clone(), nil
}

func (s *MemoryStore) CountDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.Status == StatusScheduled && !item.ScheduledFor.After(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
