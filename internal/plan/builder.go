package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conciergehq/concierge/internal/events"
	"github.com/conciergehq/concierge/internal/intent"
	"github.com/conciergehq/concierge/internal/ledger"
)

// Enqueuer hands a due plan to the execution queue. Implemented by the
// queue service; an interface here keeps the dependency one-directional.
type Enqueuer interface {
	EnqueuePlan(ctx context.Context, p Plan) error
}

const (
	minSnoozeHours = 1
	maxSnoozeHours = 168
)

// Builder turns classified intents into persisted plans and decides
// whether they wait for approval or go straight to the queue.
type Builder struct {
	store Store
	enq   Enqueuer
	bus   *events.Bus
	now   func() time.Time
}

func NewBuilder(store Store, enq Enqueuer, bus *events.Bus) *Builder {
	return &Builder{
		store: store,
		enq:   enq,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the builder's clock. Tests only.
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

type CreateRequest struct {
	UserID       string
	Kind         intent.Kind
	Payload      intent.Payload
	ScheduledFor *time.Time
	Source       intent.Source
	Confidence   float64
}

// Create validates the request, persists the plan, and enqueues it when no
// approval is needed and it is already due.
func (b *Builder) Create(ctx context.Context, req CreateRequest) (Plan, UIHint, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return Plan{}, "", errors.New("user_id is required")
	}
	if req.Payload == nil {
		return Plan{}, "", errors.New("payload is required")
	}
	if _, err := intent.ParseKind(string(req.Kind)); err != nil {
		return Plan{}, "", err
	}
	if req.Payload.Kind() != req.Kind {
		return Plan{}, "", fmt.Errorf("%w: payload is %q, intent is %q",
			intent.ErrInvalidIntent, req.Payload.Kind(), req.Kind)
	}

	now := b.now()
	scheduledFor := resolveSchedule(req, now)
	requiresApproval := intent.RequiresApproval(req.Kind)

	status := StatusScheduled
	if requiresApproval {
		status = StatusWaitingApproval
	}

	raw, err := intent.EncodePayload(req.Payload)
	if err != nil {
		return Plan{}, "", err
	}

	p := Plan{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Kind:             req.Kind,
		Source:           req.Source,
		Payload:          raw,
		Status:           status,
		RequiresApproval: requiresApproval,
		ActionHash:       ledger.Hash(req.UserID, string(req.Kind), req.Payload.Summary(), scheduledFor),
		Confidence:       req.Confidence,
		ScheduledFor:     scheduledFor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := b.store.Save(ctx, p); err != nil {
		return Plan{}, "", fmt.Errorf("persist plan: %w", err)
	}

	b.publish(events.TypePlanCreated, p, "")
	if requiresApproval {
		b.publish(events.TypePlanWaitingApproval, p, req.Payload.DisplayTitle())
		return p, UIHintNeedsApproval, nil
	}

	// Future plans go on the queue now too; the item carries scheduled_for
	// and the worker only claims items that are due.
	if err := b.enqueue(ctx, p); err != nil {
		return Plan{}, "", err
	}
	if !scheduledFor.After(now) {
		return p, UIHintExecuted, nil
	}
	return p, UIHintScheduled, nil
}

// Approve resolves a human decision on a waiting plan. Only plans in
// waiting_approval can be decided; anything else is an ErrInvalidState.
func (b *Builder) Approve(ctx context.Context, planID string, approved bool, editedPayload intent.Payload) (Plan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return Plan{}, errors.New("plan_id is required")
	}
	now := b.now()

	if !approved {
		p, err := b.store.UpdateStatus(ctx, planID, StatusWaitingApproval, StatusCancelled, "", "approval rejected", now)
		if err != nil {
			return Plan{}, err
		}
		b.publish(events.TypePlanCancelled, p, "approval rejected")
		return p, nil
	}

	if editedPayload != nil {
		current, err := b.store.Get(ctx, planID)
		if err != nil {
			return Plan{}, err
		}
		if current.Status != StatusWaitingApproval {
			return Plan{}, ErrInvalidState
		}
		if editedPayload.Kind() != current.Kind {
			return Plan{}, fmt.Errorf("%w: edited payload is %q, plan is %q",
				intent.ErrInvalidIntent, editedPayload.Kind(), current.Kind)
		}
		raw, err := intent.EncodePayload(editedPayload)
		if err != nil {
			return Plan{}, err
		}
		hash := ledger.Hash(current.UserID, string(current.Kind), editedPayload.Summary(), current.ScheduledFor)
		if err := b.store.SetPayload(ctx, planID, raw, hash, now); err != nil {
			return Plan{}, err
		}
	}

	p, err := b.store.UpdateStatus(ctx, planID, StatusWaitingApproval, StatusScheduled, "", "", now)
	if err != nil {
		return Plan{}, err
	}
	b.publish(events.TypePlanApproved, p, "")

	if err := b.enqueue(ctx, p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Snooze hides a plan from attention views until now+hours. It is not a
// status transition; the durable status is untouched.
func (b *Builder) Snooze(ctx context.Context, planID string, hours int) (Plan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return Plan{}, errors.New("plan_id is required")
	}
	if hours < minSnoozeHours {
		hours = minSnoozeHours
	}
	if hours > maxSnoozeHours {
		hours = maxSnoozeHours
	}
	now := b.now()
	p, err := b.store.SetSkipUntil(ctx, planID, now.Add(time.Duration(hours)*time.Hour), now)
	if err != nil {
		return Plan{}, err
	}
	b.publish(events.TypePlanSnoozed, p, fmt.Sprintf("snoozed %dh", hours))
	return p, nil
}

func (b *Builder) enqueue(ctx context.Context, p Plan) error {
	if b.enq == nil {
		return nil
	}
	if err := b.enq.EnqueuePlan(ctx, p); err != nil {
		return fmt.Errorf("enqueue plan: %w", err)
	}
	b.publish(events.TypePlanEnqueued, p, "")
	return nil
}

func (b *Builder) publish(t events.Type, p Plan, detail string) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.Event{
		Type:   t,
		UserID: p.UserID,
		PlanID: p.ID,
		Status: string(p.Status),
		Detail: detail,
		At:     b.now(),
	})
}

// resolveSchedule picks the plan's effective run time: explicit request
// value wins, then a reminder payload's own scheduledFor, then now.
func resolveSchedule(req CreateRequest, now time.Time) time.Time {
	if req.ScheduledFor != nil {
		return req.ScheduledFor.UTC()
	}
	if rp, ok := req.Payload.(intent.ReminderPayload); ok && rp.ScheduledFor != nil {
		return rp.ScheduledFor.UTC()
	}
	return now
}
