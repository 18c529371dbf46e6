// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/pkg/logger"
)

// Reader serves the materialized read views.
type Reader interface {
	Snapshot(ctx context.Context, lawyerID model.LawyerID) (model.Snapshot, error)
	Specializations(ctx context.Context, lawyerID model.LawyerID) ([]model.SpecializationScore, error)
}

// Recomputer accepts recompute requests.
type Recomputer interface {
	// Recompute schedules one lawyer and returns without waiting for it.
	Recompute(ctx context.Context, lawyerID model.LawyerID) error
	// RecomputeAll runs a sweep and returns how many lawyers it triggered.
	RecomputeAll(ctx context.Context) (int, error)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Reader
	Recomputer
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	lawyersHandler   *LawyersHandler
	recomputeHandler *RecomputeHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(deps),
		lawyersHandler:   NewLawyersHandler(deps),
		recomputeHandler: NewRecomputeHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /lawyers/{id}/reputation", MetricsMiddleware(s.lawyersHandler.HandleGetReputation, "reputation"))
	mux.HandleFunc("GET /lawyers/{id}/specializations", MetricsMiddleware(s.lawyersHandler.HandleGetSpecializations, "specializations"))
	mux.HandleFunc("POST /lawyers/{id}/recompute", MetricsMiddleware(s.recomputeHandler.HandleRecomputeLawyer, "recompute_lawyer"))
	mux.HandleFunc("POST /recompute", MetricsMiddleware(s.recomputeHandler.HandleRecomputeAll, "recompute_all"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs err and responds with the status text only.
func writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	if err != nil {
		logger.Get().Named("http").Warn(r.Context(), "request error",
			logger.String("request_id", RequestID(r.Context())),
			logger.String("code", code),
			logger.Int("status", status),
			logger.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: http.StatusText(status)})
}
