package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/muselab/aura/internal/ingest"
)

// EventsHandler handles event submission requests.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// comparisonRequest mirrors the schema for POST /events/comparison.
type comparisonRequest struct {
	EventID    string `json:"event_id"`
	ItemA      string `json:"item_a"`
	ItemB      string `json:"item_b"`
	WinnerID   string `json:"winner_id"`
	RaterID    string `json:"rater_id"`
	HighWeight bool   `json:"high_weight"`
}

func (r comparisonRequest) validate() error {
	switch {
	case strings.TrimSpace(r.ItemA) == "":
		return errors.New("missing item_a")
	case strings.TrimSpace(r.ItemB) == "":
		return errors.New("missing item_b")
	case strings.TrimSpace(r.WinnerID) == "":
		return errors.New("missing winner_id")
	case strings.TrimSpace(r.RaterID) == "":
		return errors.New("missing rater_id")
	}
	return nil
}

// ratingRequest mirrors the schema for POST /events/rating.
type ratingRequest struct {
	EventID  string  `json:"event_id"`
	ItemID   string  `json:"item_id"`
	RaterID  string  `json:"rater_id"`
	RawValue float64 `json:"raw_value"`
}

func (r ratingRequest) validate() error {
	switch {
	case strings.TrimSpace(r.ItemID) == "":
		return errors.New("missing item_id")
	case strings.TrimSpace(r.RaterID) == "":
		return errors.New("missing rater_id")
	}
	return nil
}

// boostRequest mirrors the schema for POST /events/boost.
type boostRequest struct {
	EventID string `json:"event_id"`
	ItemID  string `json:"item_id"`
	RaterID string `json:"rater_id"`
}

func (r boostRequest) validate() error {
	switch {
	case strings.TrimSpace(r.ItemID) == "":
		return errors.New("missing item_id")
	case strings.TrimSpace(r.RaterID) == "":
		return errors.New("missing rater_id")
	}
	return nil
}

// HandlePostComparison handles POST /events/comparison requests.
func (h *EventsHandler) HandlePostComparison(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_comparison"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req comparisonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}

	accepted, err := h.deps.SubmitComparison(r.Context(), req.EventID, req.ItemA, req.ItemB, req.WinnerID, req.RaterID, req.HighWeight)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: accepted.EventID})
}

// HandlePostRating handles POST /events/rating requests.
func (h *EventsHandler) HandlePostRating(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_rating"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}

	accepted, err := h.deps.SubmitRating(r.Context(), req.EventID, req.ItemID, req.RaterID, req.RawValue)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: accepted.EventID})
}

// HandlePostBoost handles POST /events/boost requests.
func (h *EventsHandler) HandlePostBoost(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_boost"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req boostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}

	accepted, err := h.deps.SubmitBoost(r.Context(), req.EventID, req.ItemID, req.RaterID)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: accepted.EventID})
}

// writeSubmitError maps ingestion errors onto HTTP responses. Duplicate
// submissions are acknowledged, not failed, so retrying clients stay
// idempotent.
func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrDuplicate):
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
	case errors.Is(err, ingest.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err)
	case errors.Is(err, ingest.ErrUnknownItem):
		writeError(w, http.StatusNotFound, "unknown_item", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
