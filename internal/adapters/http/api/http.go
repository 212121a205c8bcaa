// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/muselab/aura/internal/app"
	"github.com/muselab/aura/internal/domain/model"
	"github.com/muselab/aura/internal/domain/selection"
)

// Dependencies required by HTTP handlers. Using an interface bundle
// keeps the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	// Write operations feed the event log.
	SubmitComparison(ctx context.Context, eventID, itemA, itemB, winnerID, raterID string, highWeight bool) (model.Event, error)
	SubmitRating(ctx context.Context, eventID, itemID, raterID string, rawValue float64) (model.Event, error)
	SubmitBoost(ctx context.Context, eventID, itemID, raterID string) (model.Event, error)

	// Selection operations pick the next observation to gather.
	NextPair(ctx context.Context, eligible []string) (selection.Pair, error)
	NextSingle(ctx context.Context, eligible []string) (selection.Single, error)

	// Read operations expose published projections.
	Score(ctx context.Context, itemID string) (ScoreView, error)

	// Admin operations.
	Recompute(ctx context.Context, itemID string) (int, error)
	SetExcluded(ctx context.Context, itemID string, excluded bool)
	GetStats(ctx context.Context) (Stats, error)
}

// ScoreView mirrors the read shape returned by score queries.
type ScoreView = service.ScoreView

// Stats mirrors the service's stats snapshot.
type Stats = service.Stats

// Server wires HTTP routes for the ranking API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	eventsHandler    *EventsHandler
	selectionHandler *SelectionHandler
	scoresHandler    *ScoresHandler
	adminHandler     *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(deps),
		eventsHandler:    NewEventsHandler(deps),
		selectionHandler: NewSelectionHandler(deps),
		scoresHandler:    NewScoresHandler(deps),
		adminHandler:     NewAdminHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events/comparison", MetricsMiddleware(s.eventsHandler.HandlePostComparison, "events_comparison"))
	mux.HandleFunc("/events/rating", MetricsMiddleware(s.eventsHandler.HandlePostRating, "events_rating"))
	mux.HandleFunc("/events/boost", MetricsMiddleware(s.eventsHandler.HandlePostBoost, "events_boost"))
	mux.HandleFunc("/selection", MetricsMiddleware(s.selectionHandler.HandlePostSelection, "selection"))
	mux.HandleFunc("/scores/", MetricsMiddleware(s.scoresHandler.HandleGetScore, "scores"))
	mux.HandleFunc("/admin/recompute", MetricsMiddleware(s.adminHandler.HandleRecompute, "admin_recompute"))
	mux.HandleFunc("/admin/exclusions", MetricsMiddleware(s.adminHandler.HandleExclusions, "admin_exclusions"))
}

type ackResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
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

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
