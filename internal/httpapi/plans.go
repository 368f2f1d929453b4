package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conciergehq/concierge/internal/audit"
	"github.com/conciergehq/concierge/internal/dayplan"
	"github.com/conciergehq/concierge/internal/intent"
	"github.com/conciergehq/concierge/internal/notify"
	"github.com/conciergehq/concierge/internal/plan"
)

type createPlanRequest struct {
	IntentType   string          `json:"intent_type"`
	Payload      json.RawMessage `json:"payload"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	Source       string          `json:"source"`
	Confidence   float64         `json:"confidence,omitempty"`
}

type createPlanResponse struct {
	PlanID           string      `json:"plan_id"`
	Status           plan.Status `json:"status"`
	RequiresApproval bool        `json:"requires_approval"`
	ActionHash       string      `json:"action_hash"`
	ScheduledFor     time.Time   `json:"scheduled_for"`
	UIHint           plan.UIHint `json:"ui_hint"`
}

type approvePlanRequest struct {
	Approved *bool           `json:"approved"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type skipPlanRequest struct {
	DurationHours int `json:"duration_hours"`
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	kind, err := intent.ParseKind(req.IntentType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_intent", err.Error())
		return
	}
	payload, err := intent.DecodePayload(kind, req.Payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	source := intent.Source(strings.TrimSpace(req.Source))
	if source == "" {
		source = intent.SourceUIButton
	}

	created, hint, err := s.builder.Create(r.Context(), plan.CreateRequest{
		UserID:       userID,
		Kind:         kind,
		Payload:      payload,
		ScheduledFor: req.ScheduledFor,
		Source:       source,
		Confidence:   req.Confidence,
	})
	if err != nil {
		if errors.Is(err, intent.ErrInvalidIntent) {
			respondError(w, http.StatusBadRequest, "invalid_intent", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "plan creation failed")
		log.Printf("httpapi: create plan for %s: %v", userID, err)
		return
	}

	s.metrics.PlansCreated.WithLabelValues(string(kind), string(source)).Inc()
	respondJSON(w, http.StatusCreated, createPlanResponse{
		PlanID:           created.ID,
		Status:           created.Status,
		RequiresApproval: created.RequiresApproval,
		ActionHash:       created.ActionHash,
		ScheduledFor:     created.ScheduledFor,
		UIHint:           hint,
	})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	plans, err := s.plans.ListByUser(r.Context(), userID, 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "listing plans failed")
		log.Printf("httpapi: list plans for %s: %v", userID, err)
		return
	}
	if r.URL.Query().Get("attention") == "true" {
		now := time.Now().UTC()
		kept := plans[:0]
		for _, p := range plans {
			if p.Status == plan.StatusWaitingApproval && !p.Snoozed(now) {
				kept = append(kept, p)
			}
		}
		plans = kept
	}
	respondJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req approvePlanRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	approved := true
	if req.Approved != nil {
		approved = *req.Approved
	}

	var edited intent.Payload
	if len(req.Payload) > 0 {
		var err error
		edited, err = intent.DecodePayload(p.Kind, req.Payload)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	updated, err := s.builder.Approve(r.Context(), p.ID, approved, edited)
	if err != nil {
		if errors.Is(err, plan.ErrInvalidState) {
			respondError(w, http.StatusConflict, "invalid_state", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "approval failed")
		log.Printf("httpapi: approve plan %s: %v", p.ID, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSkipPlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req skipPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	updated, err := s.builder.Snooze(r.Context(), p.ID, req.DurationHours)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "snooze failed")
		log.Printf("httpapi: snooze plan %s: %v", p.ID, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	hash := strings.TrimSpace(chi.URLParam(r, "hash"))
	if hash == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing action hash")
		return
	}

	exec, err := s.worker.ExecuteByHash(r.Context(), userID, hash)
	if err != nil {
		switch {
		case errors.Is(err, plan.ErrPlanNotFound):
			respondError(w, http.StatusNotFound, "plan_not_found", "no plan matches that action")
		case errors.Is(err, plan.ErrInvalidState):
			respondError(w, http.StatusConflict, "invalid_state", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal_error", "execution failed")
			log.Printf("httpapi: execute action %s for %s: %v", hash, userID, err)
		}
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

func (s *Server) handleDispatchNotification(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req notify.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = userID

	out, err := s.engine.Dispatch(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "dispatch failed")
		log.Printf("httpapi: dispatch notification for %s: %v", userID, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := s.notifications.ListByUser(r.Context(), userID, 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "listing notifications failed")
		log.Printf("httpapi: list notifications for %s: %v", userID, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing notification id")
		return
	}
	if err := s.notifications.MarkRead(r.Context(), userID, id); err != nil {
		if errors.Is(err, notify.ErrNotificationNotFound) {
			respondError(w, http.StatusNotFound, "notification_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "mark read failed")
		log.Printf("httpapi: mark notification %s read: %v", id, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type dayPlanRequest struct {
	Tasks      []dayplan.Task  `json:"tasks"`
	Events     []dayplan.Event `json:"events"`
	TargetDate *time.Time      `json:"target_date,omitempty"`
}

func (s *Server) handleDayPlan(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	var req dayPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	now := time.Now().UTC()
	target := now
	if req.TargetDate != nil {
		target = *req.TargetDate
	}
	respondJSON(w, http.StatusOK, dayplan.Plan(req.Tasks, req.Events, target, now))
}

func (s *Server) handleZombieSweep(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	token = strings.TrimPrefix(token, "Bearer ")
	if s.cfg.MonitorToken == "" || token != s.cfg.MonitorToken {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid monitor token")
		return
	}

	zombies, scanned, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "sweep failed")
		log.Printf("httpapi: zombie sweep: %v", err)
		return
	}

	log.Printf("monitor: zombie sweep scanned=%d flagged=%d", scanned, len(zombies))
	if err := s.audits.Append(r.Context(), audit.Record{
		UserID:    "system",
		Type:      audit.TypeZombieSweep,
		Detail:    fmt.Sprintf("scanned=%d flagged=%d", scanned, len(zombies)),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("httpapi: zombie sweep audit: %v", err)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"scanned": scanned,
		"flagged": len(zombies),
		"zombies": zombies,
	})
}

func (s *Server) ownedPlan(w http.ResponseWriter, r *http.Request, userID string) (plan.Plan, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing plan id")
		return plan.Plan{}, false
	}
	p, err := s.plans.Get(r.Context(), id)
	if err != nil || p.UserID != userID {
		respondError(w, http.StatusNotFound, "plan_not_found", "no such plan")
		return plan.Plan{}, false
	}
	return p, true
}
