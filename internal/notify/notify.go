// Package notify decides whether, and when, a user hears about something.
// Every notification passes the policy gate: AI opt-out, quiet hours and
// the plan tier's daily cap are checked in that order.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type Category string

const (
	CategoryAI      Category = "ai"
	CategorySystem  Category = "system"
	CategoryUpgrade Category = "upgrade"
)

var ErrNotificationNotFound = errors.New("notification not found")

type Notification struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Category     Category   `json:"category"`
	Title        string     `json:"title"`
	Body         string     `json:"body,omitempty"`
	Read         bool       `json:"read"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PolicySnapshot is the user's notification settings at dispatch time.
// Quiet hours are minutes since local midnight in the user's timezone.
type PolicySnapshot struct {
	PlanTier          string `json:"plan_tier"`
	AIOptIn           bool   `json:"ai_opt_in"`
	QuietHoursEnabled bool   `json:"quiet_hours_enabled"`
	QuietStart        int    `json:"quiet_start"`
	QuietEnd          int    `json:"quiet_end"`
	Timezone          string `json:"timezone"`
}

// PolicyProvider resolves the policy snapshot for a user when the caller
// does not supply one, e.g. notifications raised by the worker.
type PolicyProvider interface {
	PolicyFor(ctx context.Context, userID string) (PolicySnapshot, error)
}

// StaticPolicies serves a fixed per-user policy table with a fallback.
// Single-node runs and tests use it in place of a settings service.
type StaticPolicies struct {
	mu       sync.RWMutex
	byUser   map[string]PolicySnapshot
	fallback PolicySnapshot
}

func NewStaticPolicies(fallback PolicySnapshot) *StaticPolicies {
	return &StaticPolicies{
		byUser:   make(map[string]PolicySnapshot),
		fallback: fallback,
	}
}

func (s *StaticPolicies) Set(userID string, p PolicySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[userID] = p
}

func (s *StaticPolicies) PolicyFor(_ context.Context, userID string) (PolicySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.byUser[userID]; ok {
		return p, nil
	}
	return s.fallback, nil
}

type Store interface {
	Insert(ctx context.Context, n Notification) error
	// CountSince counts a user's notifications of one category created at
	// or after since. The daily cap check uses it with local midnight.
	CountSince(ctx context.Context, userID string, category Category, since time.Time) (int, error)
	// LatestSince reports whether any notification of the category exists
	// at or after since. The upsell throttle uses it.
	LatestSince(ctx context.Context, userID string, category Category, since time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	Close() error
}

func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

type MemoryStore struct {
	mu            sync.Mutex
	notifications []Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *MemoryStore) CountSince(_ context.Context, userID string, category Category, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.notifications {
		if item.UserID == userID && item.Category == category && !item.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) LatestSince(_ context.Context, userID string, category Category, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.notifications {
		if item.UserID == userID && item.Category == category && !item.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0, limit)
	for _, item := range s.notifications {
		if item.UserID == userID {
			out = append(out, item)
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

func (s *MemoryStore) MarkRead(_ context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.notifications {
		if item.ID == notificationID && item.UserID == userID {
			s.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (s *MemoryStore) Close() error {
	return nil
}
