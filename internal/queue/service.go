// Package queue runs approved plans. Items are claimed with a conditional
// status update so concurrent sweeps never run the same item twice, and
// every execution passes through the idempotency ledger before the
// provider is called.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/conciergehq/concierge/internal/audit"
	"github.com/conciergehq/concierge/internal/events"
	"github.com/conciergehq/concierge/internal/intent"
	"github.com/conciergehq/concierge/internal/ledger"
	"github.com/conciergehq/concierge/internal/observability"
	"github.com/conciergehq/concierge/internal/plan"
	"github.com/conciergehq/concierge/internal/provider"
)

// Notifier is how the worker tells the notification policy engine that an
// action completed. The engine owns the decision about whether the user
// actually hears about it.
type Notifier interface {
	ActionExecuted(ctx context.Context, p plan.Plan, detail string) error
}

// Execution is the outcome of running (or replaying) one action.
type Execution struct {
	PlanID   string `json:"plan_id,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Status   Status `json:"status"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	Replayed bool   `json:"replayed"`
}

type ServiceConfig struct {
	ProviderTimeout time.Duration
	BatchSize       int
}

// Service is the execution worker. It owns the claim/execute/finalize
// cycle and is the only component that calls providers.
type Service struct {
	items     Store
	plans     plan.Store
	records   ledger.Store
	providers *provider.Registry
	audits    audit.Store
	bus       *events.Bus
	metrics   *observability.Metrics
	notifier  Notifier
	timeout   time.Duration
	batchSize int
	now       func() time.Time
}

func NewService(items Store, plans plan.Store, records ledger.Store, providers *provider.Registry, audits audit.Store, bus *events.Bus, metrics *observability.Metrics, cfg ServiceConfig) *Service {
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 25
	}
	return &Service{
		items:     items,
		plans:     plans,
		records:   records,
		providers: providers,
		audits:    audits,
		bus:       bus,
		metrics:   metrics,
		timeout:   timeout,
		batchSize: batch,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(fn func() time.Time) {
	s.now = fn
}

// EnqueuePlan snapshots a due plan into a queue item. The payload is
// copied here so a later plan edit cannot change what executes.
func (s *Service) EnqueuePlan(ctx context.Context, p plan.Plan) error {
	now := s.now()
	item := Item{
		ID:           uuid.NewString(),
		PlanID:       p.ID,
		UserID:       p.UserID,
		Kind:         p.Kind,
		Payload:      append(json.RawMessage(nil), p.Payload...),
		ActionHash:   p.ActionHash,
		Status:       StatusScheduled,
		ScheduledFor: p.ScheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.items.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue plan %s: %w", p.ID, err)
	}
	s.metrics.PlanEvents.WithLabelValues(string(events.TypePlanEnqueued)).Inc()
	s.bus.Publish(events.Event{
		Type:   events.TypePlanEnqueued,
		UserID: p.UserID,
		PlanID: p.ID,
		Status: string(p.Status),
		At:     now,
	})
	return nil
}

// Sweep claims one batch of due items and runs them. A single item
// failing never stops the sweep; errors are logged and the next item
// proceeds. Returns the number of items processed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	if depth, err := s.items.CountDue(ctx, now); err == nil {
		s.metrics.QueueDepth.Set(float64(depth))
	}

	claimed, err := s.items.ClaimDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due items: %w", err)
	}
	for _, item := range claimed {
		if _, err := s.process(ctx, item); err != nil {
			log.Printf("queue: item %s (plan %s) finalize error: %v", item.ID, item.PlanID, err)
		}
	}
	return len(claimed), nil
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("queue: sweep failed: %v", err)
			}
		}
	}
}

// ExecuteByHash runs the action identified by an action fingerprint. A
// hash already marked executed replays the stored result without touching
// the provider. A plan still waiting for approval cannot be executed.
func (s *Service) ExecuteByHash(ctx context.Context, userID, hash string) (Execution, error) {
	// Ownership first: the ledger is keyed by hash alone, so the replay
	// short-circuit must never answer for a hash the caller does not own.
	p, err := s.plans.GetByActionHash(ctx, userID, hash)
	if err != nil {
		return Execution{}, err
	}

	if rec, err := s.records.Get(ctx, hash); err == nil && rec.Status == ledger.StatusExecuted {
		s.metrics.LedgerReplays.Inc()
		return Execution{PlanID: p.ID, Status: StatusExecuted, Result: rec.Result, Replayed: true}, nil
	}

	switch p.Status {
	case plan.StatusScheduled:
	case plan.StatusExecuted:
		return Execution{PlanID: p.ID, Status: StatusExecuted, Result: p.Result, Replayed: true}, nil
	default:
		return Execution{}, fmt.Errorf("%w: plan %s is %s", plan.ErrInvalidState, p.ID, p.Status)
	}

	now := s.now()
	item := Item{
		ID:           uuid.NewString(),
		PlanID:       p.ID,
		UserID:       p.UserID,
		Kind:         p.Kind,
		Payload:      append(json.RawMessage(nil), p.Payload...),
		ActionHash:   p.ActionHash,
		Status:       StatusScheduled,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.items.Enqueue(ctx, item); err != nil {
		return Execution{}, fmt.Errorf("enqueue plan %s: %w", p.ID, err)
	}
	claimed, err := s.items.Claim(ctx, item.ID, now)
	if err != nil {
		return Execution{}, fmt.Errorf("claim item %s: %w", item.ID, err)
	}
	return s.process(ctx, claimed)
}

// process runs a single claimed item through ledger, provider and
// finalization. The item must already be in running status.
func (s *Service) process(ctx context.Context, item Item) (Execution, error) {
	payload, err := intentPayload(item)
	if err != nil {
		return s.finalize(ctx, item, StatusFailed, "", err.Error(), "undecodable", true)
	}

	// A request that lands just after the top of the hour must still
	// collapse with one from a few minutes earlier, so the previous
	// bucket's fingerprint is checked too.
	_, prevHash := ledger.Hashes(item.UserID, string(item.Kind), payload.Summary(), item.ScheduledFor)
	for _, h := range []string{item.ActionHash, prevHash} {
		rec, err := s.records.Get(ctx, h)
		if err != nil {
			continue
		}
		if rec.Status == ledger.StatusExecuted {
			s.metrics.LedgerReplays.Inc()
			exec, ferr := s.finalize(ctx, item, StatusExecuted, rec.Result, "", "replayed", false)
			exec.Replayed = true
			return exec, ferr
		}
	}

	_, created, err := s.records.Reserve(ctx, item.ActionHash, s.now())
	if err != nil {
		return s.finalize(ctx, item, StatusFailed, "", fmt.Sprintf("reserve fingerprint: %v", err), "error", false)
	}
	if !created {
		// Someone else reserved the fingerprint and has not finished.
		// Never run the provider for a contested hash.
		return s.finalize(ctx, item, StatusFailed, "", "action already in flight", "duplicate", false)
	}

	prov, err := s.providers.Lookup(item.Kind)
	if err != nil {
		return s.finalize(ctx, item, StatusFailed, "", err.Error(), "failed", !provider.Retryable(err))
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	started := s.now()
	res, err := prov.Execute(execCtx, payload)
	cancel()
	s.metrics.ObserveExecutionLatency(time.Since(started))

	if err != nil {
		// When the failure is transient the item fails but the plan
		// stays scheduled so it can be executed again; the pending
		// ledger record blocks duplicates until the bucket rolls over.
		return s.finalize(ctx, item, StatusFailed, "", err.Error(), "error", !provider.Retryable(err))
	}

	resultJSON := encodeResult(res)
	if !res.Success {
		// The provider made a definitive business decision. The
		// reservation stays pending, so nothing replays the failure as
		// a success; editing the payload gives the plan a fresh
		// fingerprint to retry under sooner than the bucket rollover.
		return s.finalize(ctx, item, StatusFailed, resultJSON, res.Error, "rejected", false)
	}

	if err := s.records.MarkExecuted(ctx, item.ActionHash, resultJSON, s.now()); err != nil {
		log.Printf("queue: item %s mark executed: %v", item.ID, err)
	}

	s.appendAudit(ctx, item, resultJSON)
	exec, ferr := s.finalize(ctx, item, StatusExecuted, resultJSON, "", "executed", false)
	s.notifyExecuted(ctx, item, res.Detail)
	return exec, ferr
}

// finalize moves the item out of running and keeps the plan record in
// step with it. failPlan marks the plan failed as well; otherwise a
// failed item leaves the plan scheduled for another attempt.
func (s *Service) finalize(ctx context.Context, item Item, status Status, result, errMsg, outcome string, failPlan bool) (Execution, error) {
	now := s.now()
	done, err := s.items.Finish(ctx, item.ID, status, result, errMsg, now)
	if err != nil {
		return Execution{}, fmt.Errorf("finish item %s: %w", item.ID, err)
	}
	s.metrics.QueueOutcomes.WithLabelValues(string(item.Kind), outcome).Inc()

	switch {
	case status == StatusExecuted:
		if _, err := s.plans.UpdateStatus(ctx, item.PlanID, plan.StatusScheduled, plan.StatusExecuted, result, "", now); err != nil && !errors.Is(err, plan.ErrInvalidState) {
			log.Printf("queue: plan %s mark executed: %v", item.PlanID, err)
		}
		s.publish(events.TypePlanExecuted, item, string(plan.StatusExecuted), result, now)
	case failPlan:
		if _, err := s.plans.UpdateStatus(ctx, item.PlanID, plan.StatusScheduled, plan.StatusFailed, "", errMsg, now); err != nil && !errors.Is(err, plan.ErrInvalidState) {
			log.Printf("queue: plan %s mark failed: %v", item.PlanID, err)
		}
		s.publish(events.TypePlanFailed, item, string(plan.StatusFailed), errMsg, now)
	default:
		s.publish(events.TypePlanFailed, item, string(plan.StatusScheduled), errMsg, now)
	}

	return Execution{
		PlanID: done.PlanID,
		ItemID: done.ID,
		Status: done.Status,
		Result: done.Result,
		Error:  done.Error,
	}, nil
}

func (s *Service) appendAudit(ctx context.Context, item Item, detail string) {
	err := s.audits.Append(ctx, audit.Record{
		UserID:     item.UserID,
		Type:       audit.TypeActionExecuted,
		RefID:      item.PlanID,
		ActionHash: item.ActionHash,
		Detail:     detail,
		CreatedAt:  s.now(),
	})
	if err != nil {
		log.Printf("queue: item %s audit append: %v", item.ID, err)
	}
}

func (s *Service) notifyExecuted(ctx context.Context, item Item, detail string) {
	if s.notifier == nil {
		return
	}
	p, err := s.plans.Get(ctx, item.PlanID)
	if err != nil {
		log.Printf("queue: item %s notify lookup: %v", item.ID, err)
		return
	}
	if err := s.notifier.ActionExecuted(ctx, p, detail); err != nil {
		log.Printf("queue: plan %s notify: %v", p.ID, err)
	}
}

func (s *Service) publish(typ events.Type, item Item, status, detail string, at time.Time) {
	s.metrics.PlanEvents.WithLabelValues(string(typ)).Inc()
	s.bus.Publish(events.Event{
		Type:   typ,
		UserID: item.UserID,
		PlanID: item.PlanID,
		Status: status,
		Detail: detail,
		At:     at,
	})
}

func intentPayload(item Item) (intent.Payload, error) {
	p, err := intent.DecodePayload(item.Kind, item.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload for item %s: %w", item.ID, err)
	}
	return p, nil
}

func encodeResult(res provider.Result) string {
	b, err := json.Marshal(res)
	if err != nil {
		return ""
	}
	return string(b)
}
