// Package events fans plan lifecycle events out to websocket subscribers.
package events

import (
	"strings"
	"sync"
	"time"
)

type Type string

const (
	TypePlanCreated         Type = "plan_created"
	TypePlanWaitingApproval Type = "plan_waiting_approval"
	TypePlanApproved        Type = "plan_approved"
	TypePlanEnqueued        Type = "plan_enqueued"
	TypePlanExecuted        Type = "plan_executed"
	TypePlanFailed          Type = "plan_failed"
	TypePlanCancelled       Type = "plan_cancelled"
	TypePlanSnoozed         Type = "plan_snoozed"
)

type Event struct {
	Type   Type      `json:"type"`
	UserID string    `json:"user_id"`
	PlanID string    `json:"plan_id"`
	Status string    `json:"status,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Bus is a per-user publish/subscribe hub. Publishes never block: a
// subscriber that falls behind loses events rather than stalling the
// pipeline.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]map[int]chan Event)}
}

func (b *Bus) Subscribe(userID string) (<-chan Event, func()) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 256)
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[int]chan Event)
	}
	b.subscribers[userID][id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[userID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[evt.UserID]
	if len(subs) == 0 {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
