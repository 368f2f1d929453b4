package queue

import (
	"encoding/json"
	"time"

	"github.com/conciergehq/concierge/internal/intent"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

// Item is one attempt to run a plan's action. The payload is a copy taken
// at enqueue time so later plan edits never change an in-flight item.
type Item struct {
	ID           string          `json:"id"`
	PlanID       string          `json:"plan_id"`
	UserID       string          `json:"user_id"`
	Kind         intent.Kind     `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	ActionHash   string          `json:"action_hash"`
	Status       Status          `json:"status"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Result       string          `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (i Item) Terminal() bool {
	return i.Status == StatusExecuted || i.Status == StatusFailed
}

func (i Item) Clone() Item {
	out := i
	if i.Payload != nil {
		out.Payload = append(json.RawMessage(nil), i.Payload...)
	}
	return out
}
