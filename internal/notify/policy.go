package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/conciergehq/concierge/internal/audit"
	"github.com/conciergehq/concierge/internal/intent"
	"github.com/conciergehq/concierge/internal/observability"
	"github.com/conciergehq/concierge/internal/plan"
)

type DispatchStatus string

const (
	StatusDelivered         DispatchStatus = "delivered"
	StatusScheduledForLater DispatchStatus = "scheduled_for_later"
	StatusRejected          DispatchStatus = "rejected"
)

const (
	ReasonAIOptIn           = "ai_opt_in"
	ReasonScheduledForLater = "scheduled_for_later"
	ReasonDailyLimit        = "daily_limit_reached"
)

const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

type Request struct {
	UserID   string          `json:"user_id"`
	Category Category        `json:"category"`
	Title    string          `json:"title"`
	Body     string          `json:"body,omitempty"`
	Policy   *PolicySnapshot `json:"policy,omitempty"`
}

type Outcome struct {
	Status       DispatchStatus `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
}

type EngineConfig struct {
	FreeTierDailyAILimit int
	ProTierDailyAILimit  int
	UpsellWindow         time.Duration
}

// Engine applies the notification policy. Checks run in a fixed order:
// AI opt-out first, then quiet hours, then the tier's daily cap.
type Engine struct {
	store    Store
	audits   audit.Store
	metrics  *observability.Metrics
	policies PolicyProvider
	cfg      EngineConfig
	now      func() time.Time
}

func NewEngine(store Store, audits audit.Store, metrics *observability.Metrics, policies PolicyProvider, cfg EngineConfig) *Engine {
	if cfg.FreeTierDailyAILimit <= 0 {
		cfg.FreeTierDailyAILimit = 2
	}
	if cfg.ProTierDailyAILimit <= 0 {
		cfg.ProTierDailyAILimit = 10
	}
	if cfg.UpsellWindow <= 0 {
		cfg.UpsellWindow = 24 * time.Hour
	}
	return &Engine{
		store:    store,
		audits:   audits,
		metrics:  metrics,
		policies: policies,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(fn func() time.Time) {
	e.now = fn
}

func (e *Engine) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	if req.UserID == "" || req.Title == "" {
		return Outcome{}, fmt.Errorf("notification needs a user and a title")
	}
	if req.Category == "" {
		req.Category = CategorySystem
	}

	policy := PolicySnapshot{}
	if req.Policy != nil {
		policy = *req.Policy
	} else if e.policies != nil {
		var err error
		policy, err = e.policies.PolicyFor(ctx, req.UserID)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve policy for %s: %w", req.UserID, err)
		}
	}

	now := e.now()
	loc := userLocation(policy.Timezone)
	local := now.In(loc)

	if req.Category == CategoryAI && !policy.AIOptIn {
		e.count(ReasonAIOptIn)
		return Outcome{Status: StatusRejected, Reason: ReasonAIOptIn}, nil
	}

	if policy.QuietHoursEnabled {
		if until, quiet := quietUntil(local, policy.QuietStart, policy.QuietEnd); quiet {
			n := e.newNotification(req, now)
			deferred := until.UTC()
			n.ScheduledFor = &deferred
			if err := e.store.Insert(ctx, n); err != nil {
				return Outcome{}, fmt.Errorf("insert deferred notification: %w", err)
			}
			e.count(ReasonScheduledForLater)
			return Outcome{Status: StatusScheduledForLater, Reason: ReasonScheduledForLater, Notification: &n}, nil
		}
	}

	// Enterprise has no daily AI cap.
	if req.Category == CategoryAI && policy.PlanTier != TierEnterprise {
		limit := e.cfg.FreeTierDailyAILimit
		if policy.PlanTier == TierPro {
			limit = e.cfg.ProTierDailyAILimit
		}
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		used, err := e.store.CountSince(ctx, req.UserID, CategoryAI, midnight.UTC())
		if err != nil {
			return Outcome{}, fmt.Errorf("count daily notifications: %w", err)
		}
		if used >= limit {
			if policy.PlanTier != TierPro {
				e.maybeUpsell(ctx, req.UserID, now)
			}
			e.count(ReasonDailyLimit)
			return Outcome{Status: StatusRejected, Reason: ReasonDailyLimit}, nil
		}
	}

	n := e.newNotification(req, now)
	if err := e.store.Insert(ctx, n); err != nil {
		return Outcome{}, fmt.Errorf("insert notification: %w", err)
	}
	e.count(string(StatusDelivered))
	return Outcome{Status: StatusDelivered, Notification: &n}, nil
}

// ActionExecuted raises a notification for a completed action. It is the
// worker's Notifier hook; policy rejections are not errors here.
func (e *Engine) ActionExecuted(ctx context.Context, p plan.Plan, detail string) error {
	category := CategorySystem
	if p.Source == intent.SourceVoice || p.Source == intent.SourceAskPanel {
		category = CategoryAI
	}

	title := "Done: " + string(p.Kind)
	if payload, err := p.DecodedPayload(); err == nil && payload.DisplayTitle() != "" {
		title = "Done: " + payload.DisplayTitle()
	}

	_, err := e.Dispatch(ctx, Request{
		UserID:   p.UserID,
		Category: category,
		Title:    title,
		Body:     detail,
	})
	return err
}

// maybeUpsell shows at most one upgrade prompt per window. The prompt
// bypasses Dispatch on purpose: it must not count against any cap.
func (e *Engine) maybeUpsell(ctx context.Context, userID string, now time.Time) {
	since := now.Add(-e.cfg.UpsellWindow)
	shown, err := e.store.LatestSince(ctx, userID, CategoryUpgrade, since)
	if err != nil || shown {
		if err != nil {
			log.Printf("notify: upsell throttle check for %s: %v", userID, err)
		}
		return
	}

	n := Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  CategoryUpgrade,
		Title:     "Daily smart notification limit reached",
		Body:      "Upgrade to Pro for more smart notifications every day.",
		CreatedAt: now,
	}
	if err := e.store.Insert(ctx, n); err != nil {
		log.Printf("notify: insert upsell for %s: %v", userID, err)
		return
	}
	if err := e.audits.Append(ctx, audit.Record{
		UserID:    userID,
		Type:      audit.TypeUpsellImpression,
		RefID:     n.ID,
		CreatedAt: now,
	}); err != nil {
		log.Printf("notify: audit upsell for %s: %v", userID, err)
	}
}

func (e *Engine) newNotification(req Request, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Category:  req.Category,
		Title:     req.Title,
		Body:      req.Body,
		CreatedAt: now,
	}
}

func (e *Engine) count(outcome string) {
	if e.metrics != nil {
		e.metrics.NotificationOutcomes.WithLabelValues(outcome).Inc()
	}
}

func userLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// quietUntil reports whether local falls inside the quiet window and, if
// so, when the window ends. A window with start > end wraps past
// midnight; start == end means the window is empty.
func quietUntil(local time.Time, startMin, endMin int) (time.Time, bool) {
	if startMin == endMin {
		return time.Time{}, false
	}
	cur := local.Hour()*60 + local.Minute()

	inWindow := false
	if startMin < endMin {
		inWindow = cur >= startMin && cur < endMin
	} else {
		inWindow = cur >= startMin || cur < endMin
	}
	if !inWindow {
		return time.Time{}, false
	}

	end := time.Date(local.Year(), local.Month(), local.Day(),
		endMin/60, endMin%60, 0, 0, local.Location())
	if !end.After(local) {
		end = end.Add(24 * time.Hour)
	}
	return end, true
}
