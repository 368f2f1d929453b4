package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/conciergehq/concierge/internal/audit"
	"github.com/conciergehq/concierge/internal/config"
	"github.com/conciergehq/concierge/internal/events"
	"github.com/conciergehq/concierge/internal/notify"
	"github.com/conciergehq/concierge/internal/observability"
	"github.com/conciergehq/concierge/internal/plan"
	"github.com/conciergehq/concierge/internal/queue"
)

type Server struct {
	cfg           config.Config
	plans         plan.Store
	builder       *plan.Builder
	worker        *queue.Service
	engine        *notify.Engine
	notifications notify.Store
	audits        audit.Store
	sweeper       *plan.Sweeper
	bus           *events.Bus
	metrics       *observability.Metrics
	upgrader      websocket.Upgrader
}

func New(cfg config.Config, plans plan.Store, builder *plan.Builder, worker *queue.Service, engine *notify.Engine, notifications notify.Store, audits audit.Store, sweeper *plan.Sweeper, bus *events.Bus, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:           cfg,
		plans:         plans,
		builder:       builder,
		worker:        worker,
		engine:        engine,
		notifications: notifications,
		audits:        audits,
		sweeper:       sweeper,
		bus:           bus,
		metrics:       metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections by default, so a
				// third-party page cannot subscribe to someone's plan
				// stream if the service is exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/plans", s.handleCreatePlan)
	r.Get("/v1/plans", s.handleListPlans)
	r.Get("/v1/plans/{id}", s.handleGetPlan)
	r.Post("/v1/plans/{id}/approve", s.handleApprovePlan)
	r.Post("/v1/plans/{id}/skip", s.handleSkipPlan)
	r.Post("/v1/actions/{hash}/execute", s.handleExecuteAction)

	r.Post("/v1/notifications/dispatch", s.handleDispatchNotification)
	r.Get("/v1/notifications", s.handleListNotifications)
	r.Post("/v1/notifications/{id}/read", s.handleMarkNotificationRead)

	r.Post("/v1/dayplan", s.handleDayPlan)

	r.Get("/v1/events/ws", s.handleEventsWS)

	r.Get("/v1/monitor/zombies", s.handleZombieSweep)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "in-memory"
}

// requireUser resolves the authenticated user. Authentication proper is a
// fronting proxy's job; this service trusts the X-User-ID header it
// forwards.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return "", false
	}
	return userID, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
