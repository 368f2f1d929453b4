package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/conciergehq/concierge/internal/audit"
	"github.com/conciergehq/concierge/internal/events"
	"github.com/conciergehq/concierge/internal/intent"
	"github.com/conciergehq/concierge/internal/ledger"
	"github.com/conciergehq/concierge/internal/observability"
	"github.com/conciergehq/concierge/internal/plan"
	"github.com/conciergehq/concierge/internal/provider"
)

type harness struct {
	svc    *Service
	items  *MemoryStore
	plans  *plan.MemoryStore
	ledger *ledger.MemoryStore
	audits *audit.MemoryStore
	reg    *provider.Registry
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		items:  NewMemoryStore(),
		plans:  plan.NewMemoryStore(),
		ledger: ledger.NewMemoryStore(),
		audits: audit.NewMemoryStore(),
		reg:    provider.NewRegistry(),
	}
	metrics := observability.NewMetricsWith("test", prometheus.NewRegistry())
	h.svc = NewService(h.items, h.plans, h.ledger, h.reg, h.audits, events.NewBus(), metrics, ServiceConfig{
		ProviderTimeout: timeout,
		BatchSize:       10,
	})
	return h
}

func (h *harness) addPlan(t *testing.T, userID string, payload intent.Payload, when time.Time) plan.Plan {
	t.Helper()
	raw, err := intent.EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	p := plan.Plan{
		ID:           uuid.NewString(),
		UserID:       userID,
		Kind:         payload.Kind(),
		Source:       intent.SourceUIButton,
		Payload:      raw,
		Status:       plan.StatusScheduled,
		ActionHash:   ledger.Hash(userID, string(payload.Kind()), payload.Summary(), when),
		ScheduledFor: when,
		CreatedAt:    when,
		UpdatedAt:    when,
	}
	if err := h.plans.Save(context.Background(), p); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	return p
}

type countingProvider struct {
	calls atomic.Int64
	res   provider.Result
	err   error
}

func (c *countingProvider) Execute(ctx context.Context, _ intent.Payload) (provider.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return provider.Result{}, c.err
	}
	return c.res, nil
}

type blockingProvider struct{}

func (blockingProvider) Execute(ctx context.Context, _ intent.Payload) (provider.Result, error) {
	<-ctx.Done()
	return provider.Result{}, ctx.Err()
}

func TestSweepExecutesDueItem(t *testing.T) {
	h := newHarness(t, time.Second)
	prov := &countingProvider{res: provider.Result{Success: true, Detail: `{"task_id":"t1"}`}}
	h.reg.Register(intent.KindTask, prov)

	now := time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC)
	h.svc.SetClock(func() time.Time { return now })

	p := h.addPlan(t, "user-1", intent.TaskPayload{Title: "File taxes"}, now)
	if err := h.svc.EnqueuePlan(context.Background(), p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := h.svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d items, want 1", n)
	}
	if got := prov.calls.Load(); got != 1 {
		t.Fatalf("provider called %d times, want 1", got)
	}

	updated, err := h.plans.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if updated.Status != plan.StatusExecuted {
		t.Fatalf("plan status = %s, want executed", updated.Status)
	}
	if updated.ExecutedAt == nil {
		t.Fatal("plan executed_at not set")
	}

	trail, err := h.audits.Recent(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("audit recent: %v", err)
	}
	if len(trail) != 1 || trail[0].Type != audit.TypeActionExecuted {
		t.Fatalf("audit trail = %+v, want one action_executed record", trail)
	}
	if trail[0].ActionHash != p.ActionHash {
		t.Fatalf("audit hash = %q, want %q", trail[0].ActionHash, p.ActionHash)
	}
}

func TestDuplicateExecutionsCollapse(t *testing.T) {
	h := newHarness(t, time.Second)
	prov := &countingProvider{res: provider.Result{Success: true, Detail: `{"email_id":"e1"}`}}
	h.reg.Register(intent.KindEmail, prov)

	now := time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC)
	h.svc.SetClock(func() time.Time { return now })

	payload := intent.EmailPayload{To: "ana@example.com", Subject: "Q1 report", Body: "attached"}
	p := h.addPlan(t, "user-1", payload, now)

	first, err := h.svc.ExecuteByHash(context.Background(), "user-1", p.ActionHash)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if first.Replayed {
		t.Fatal("first execution flagged as replay")
	}

	second, err := h.svc.ExecuteByHash(context.Background(), "user-1", p.ActionHash)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if !second.Replayed {
		t.Fatal("second execution not flagged as replay")
	}
	if got := prov.calls.Load(); got != 1 {
		t.Fatalf("provider called %d times, want 1", got)
	}
	if first.Result != second.Result {
		t.Fatalf("replay result %q differs from original %q", second.Result, first.Result)
	}
}

func TestClaimLosesRaceToFirstWorker(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	item := Item{
		ID:           uuid.NewString(),
		PlanID:       uuid.NewString(),
		UserID:       "user-1",
		Kind:         intent.KindTask,
		Status:       StatusScheduled,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := store.Claim(context.Background(), item.ID, now); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := store.Claim(context.Background(), item.ID, now); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestProviderTimeoutFailsItemNotPlan(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.reg.Register(intent.KindWhatsApp, blockingProvider{})

	now := time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC)
	h.svc.SetClock(func() time.Time { return now })

	p := h.addPlan(t, "user-1", intent.MessagePayload{To: "+15550100", Text: "running late"}, now)
	if err := h.svc.EnqueuePlan(context.Background(), p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := h.svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	items, err := h.items.ClaimDue(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("claimable items after sweep = %d, want 0", len(items))
	}

	updated, err := h.plans.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if updated.Status != plan.StatusScheduled {
		t.Fatalf("plan status = %s, want scheduled after transient failure", updated.Status)
	}
}

func TestBusinessFailureLeavesPlanScheduled(t *testing.T) {
	h := newHarness(t, time.Second)
	prov := &countingProvider{res: provider.Result{Success: false, Error: "recipient rejected"}}
	h.reg.Register(intent.KindEmail, prov)

	now := time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC)
	h.svc.SetClock(func() time.Time { return now })

	p := h.addPlan(t, "user-1", intent.EmailPayload{To: "bad@", Subject: "hi", Body: "x"}, now)
	exec, err := h.svc.ExecuteByHash(context.Background(), "user-1", p.ActionHash)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("item status = %s, want failed", exec.Status)
	}
	if exec.Error != "recipient rejected" {
		t.Fatalf("item error = %q", exec.Error)
	}

	updated, err := h.plans.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if updated.Status != plan.StatusScheduled {
		t.Fatalf("plan status = %s, want scheduled", updated.Status)
	}

	// The ledger must not treat a rejected action as done; the
	// reservation stays pending and a retry in the same bucket is
	// refused rather than answered with the stored failure.
	rec, err := h.ledger.Get(context.Background(), p.ActionHash)
	if err != nil {
		t.Fatalf("get ledger record: %v", err)
	}
	if rec.Status != ledger.StatusPending {
		t.Fatalf("ledger status = %s, want pending after business failure", rec.Status)
	}

	again, err := h.svc.ExecuteByHash(context.Background(), "user-1", p.ActionHash)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if again.Replayed || again.Status == StatusExecuted {
		t.Fatalf("second execute = %+v, failure must not replay as executed", again)
	}
	if got := prov.calls.Load(); got != 1 {
		t.Fatalf("provider called %d times, want 1", got)
	}
}

func TestFutureItemWaitsForDueSweep(t *testing.T) {
	h := newHarness(t, time.Second)
	prov := &countingProvider{res: provider.Result{Success: true, Detail: `{"reminder_id":"r1"}`}}
	h.reg.Register(intent.KindReminder, prov)

	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	due := now.Add(time.Hour)
	h.svc.SetClock(func() time.Time { return now })

	p := h.addPlan(t, "user-1", intent.ReminderPayload{Title: "take medicine"}, due)
	if err := h.svc.EnqueuePlan(context.Background(), p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := h.svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if n != 0 || prov.calls.Load() != 0 {
		t.Fatalf("early sweep ran %d items (%d provider calls), want none before due", n, prov.calls.Load())
	}

	h.svc.SetClock(func() time.Time { return due.Add(time.Minute) })
	n, err = h.svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("due sweep: %v", err)
	}
	if n != 1 || prov.calls.Load() != 1 {
		t.Fatalf("due sweep ran %d items (%d provider calls), want 1", n, prov.calls.Load())
	}

	updated, err := h.plans.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if updated.Status != plan.StatusExecuted {
		t.Fatalf("plan status = %s, want executed after due sweep", updated.Status)
	}
}

func TestNoProviderFailsPlan(t *testing.T) {
	h := newHarness(t, time.Second)

	now := time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC)
	h.svc.SetClock(func() time.Time { return now })

	p := h.addPlan(t, "user-1", intent.AlarmPayload{Label: "wake up", At: now.Add(time.Hour)}, now)
	if err := h.svc.EnqueuePlan(context.Background(), p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := h.svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	updated, err := h.plans.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if updated.Status != plan.StatusFailed {
		t.Fatalf("plan status = %s, want failed when no provider exists", updated.Status)
	}
}

func TestExecuteByHashRejectsWaitingApproval(t *testing.T) {
	h := newHarness(t, time.Second)
	prov := &countingProvider{res: provider.Result{Success: true}}
	h.reg.Register(intent.KindEmail, prov)

	now := time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC)
	h.svc.SetClock(func() time.Time { return now })

	p := h.addPlan(t, "user-1", intent.EmailPayload{To: "ana@example.com", Subject: "draft", Body: "x"}, now)
	p.Status = plan.StatusWaitingApproval
	if err := h.plans.Save(context.Background(), p); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := h.svc.ExecuteByHash(context.Background(), "user-1", p.ActionHash); !errors.Is(err, plan.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if got := prov.calls.Load(); got != 0 {
		t.Fatalf("provider called %d times, want 0", got)
	}
}

func TestExecuteByHashUnknownUser(t *testing.T) {
	h := newHarness(t, time.Second)
	now := time.Now().UTC()
	h.svc.SetClock(func() time.Time { return now })

	p := h.addPlan(t, "user-1", intent.TaskPayload{Title: "buy milk"}, now)
	if _, err := h.svc.ExecuteByHash(context.Background(), "user-2", p.ActionHash); !errors.Is(err, plan.ErrPlanNotFound) {
		t.Fatalf("err = %v, want ErrPlanNotFound", err)
	}
}

func TestExecuteByHashNeverReplaysAcrossUsers(t *testing.T) {
	h := newHarness(t, time.Second)
	prov := &countingProvider{res: provider.Result{Success: true, Detail: `{"task_id":"t1"}`}}
	h.reg.Register(intent.KindTask, prov)

	now := time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC)
	h.svc.SetClock(func() time.Time { return now })

	p := h.addPlan(t, "user-1", intent.TaskPayload{Title: "buy milk"}, now)
	if _, err := h.svc.ExecuteByHash(context.Background(), "user-1", p.ActionHash); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// The stored result belongs to user-1; presenting the hash under
	// another account must not surface it.
	if _, err := h.svc.ExecuteByHash(context.Background(), "user-2", p.ActionHash); !errors.Is(err, plan.ErrPlanNotFound) {
		t.Fatalf("err = %v, want ErrPlanNotFound instead of a replayed result", err)
	}
	if got := prov.calls.Load(); got != 1 {
		t.Fatalf("provider called %d times, want 1", got)
	}
}
