package plan

import (
	"encoding/json"
	"time"

	"github.com/conciergehq/concierge/internal/intent"
)

type Status string

const (
	StatusDraft           Status = "draft"
	StatusWaitingApproval Status = "waiting_approval"
	StatusScheduled       Status = "scheduled"
	StatusExecuted        Status = "executed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// UIHint tells the caller what the UI should do with a freshly built plan.
type UIHint string

const (
	UIHintNeedsApproval UIHint = "needs_approval"
	UIHintScheduled     UIHint = "scheduled"
	UIHintExecuted      UIHint = "executed"
)

// Plan is a durable, user-owned record of a proposed action.
type Plan struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Kind             intent.Kind     `json:"intent_type"`
	Source           intent.Source   `json:"source"`
	Payload          json.RawMessage `json:"payload"`
	Status           Status          `json:"status"`
	RequiresApproval bool            `json:"requires_approval"`
	ActionHash       string          `json:"action_hash"`
	Confidence       float64         `json:"confidence,omitempty"`
	ScheduledFor     time.Time       `json:"scheduled_for"`
	SkipUntil        *time.Time      `json:"skip_until,omitempty"`
	Result           string          `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ExecutedAt       *time.Time      `json:"executed_at,omitempty"`
}

func (p Plan) Terminal() bool {
	switch p.Status {
	case StatusExecuted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Snoozed reports whether the plan is hidden from attention views at now.
func (p Plan) Snoozed(now time.Time) bool {
	return p.SkipUntil != nil && p.SkipUntil.After(now)
}

// DecodedPayload returns the typed payload variant for the plan's kind.
func (p Plan) DecodedPayload() (intent.Payload, error) {
	return intent.DecodePayload(p.Kind, p.Payload)
}

func (p Plan) Clone() Plan {
	out := p
	if p.Payload != nil {
		out.Payload = append(json.RawMessage(nil), p.Payload...)
	}
	if p.SkipUntil != nil {
		t := *p.SkipUntil
		out.SkipUntil = &t
	}
	if p.ExecutedAt != nil {
		t := *p.ExecutedAt
		out.ExecutedAt = &t
	}
	return out
}
