// Package server exposes the routing, verification, and health/admin
// surface over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zen-systems/medgate/pkg/availability"
	"github.com/zen-systems/medgate/pkg/breaker"
	"github.com/zen-systems/medgate/pkg/consensus"
	"github.com/zen-systems/medgate/pkg/observability"
	"github.com/zen-systems/medgate/pkg/provider"
	"github.com/zen-systems/medgate/pkg/router"
)

// Server wires the core subsystems behind HTTP handlers.
type Server struct {
	router   *router.Router
	engine   *consensus.Engine
	breakers *breaker.Registry
	cache    *availability.Cache
	registry *provider.Registry
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// New creates the server.
func New(rt *router.Router, engine *consensus.Engine, breakers *breaker.Registry, cache *availability.Cache, registry *provider.Registry, metrics *observability.Metrics, logger *zap.Logger) *Server {
	return &Server{
		router:   rt,
		engine:   engine,
		breakers: breakers,
		cache:    cache,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// Handler builds the HTTP routes with all middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/providers", s.handleProviders)
		r.Post("/admin/reset", s.handleReset)
		r.Post("/route", s.handleRoute)
		r.Post("/route/{task}", s.handleRouteByTask)
		r.Post("/verify", s.handleVerify)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// providersResponse is the read-only operational snapshot.
type providersResponse struct {
	Breakers     []breaker.Record      `json:"breakers"`
	Availability []availability.Record `json:"availability"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, providersResponse{
		Breakers:     s.breakers.Snapshot(),
		Availability: s.cache.Snapshot(r.Context(), s.registry.IDs()),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.breakers.ResetAll()
	s.logger.Info("all circuit breakers reset by admin request",
		zap.String("request_id", middleware.GetReqID(r.Context())))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages are required")
		return
	}
	s.route(w, r, req)
}

func (s *Server) handleRouteByTask(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages are required")
		return
	}
	req.TaskType = chi.URLParam(r, "task")
	s.route(w, r, req)
}

// route renders routing failures as normalized payloads so UI layers can
// show a generic retry/unavailable message.
func (s *Server) route(w http.ResponseWriter, r *http.Request, req router.Request) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	res, err := s.router.Route(r.Context(), req)
	if err != nil {
		var exhausted *router.ExhaustedError
		if errors.As(err, &exhausted) {
			writeError(w, http.StatusServiceUnavailable, "providers_exhausted",
				"all AI providers are currently unavailable, please retry later")
			return
		}
		writeError(w, http.StatusBadGateway, "routing_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// verifyRequest is the verification entry point payload.
type verifyRequest struct {
	Context consensus.ClinicalContext `json:"context"`
	Primary consensus.PrimaryResponse `json:"primary"`
	ActorID string                    `json:"actor_id,omitempty"`
	Strict  bool                      `json:"strict,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if req.Primary.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "primary response content is required")
		return
	}

	res := s.engine.Verify(r.Context(), req.Context, req.Primary, req.ActorID)
	if res.EscalationRequired {
		s.metrics.CountVerification("escalated")
	} else {
		s.metrics.CountVerification("accepted")
	}

	if req.Strict && res.EscalationRequired {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]string{
				"type":     "action_blocked",
				"message":  "action blocked pending human review",
				"reason":   res.EscalationReason,
				"queue_id": res.QueueID,
			},
			"result": res,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}
