package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	repository "github.com/muselab/aura/internal/adapters/repository"
)

// ScoresHandler handles published-score reads.
type ScoresHandler struct {
	deps Dependencies
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps Dependencies) *ScoresHandler {
	return &ScoresHandler{deps: deps}
}

// scoreResponse mirrors the read shape for GET /scores/{item_id}.
type scoreResponse struct {
	ItemID      string    `json:"item_id"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	Tier        string    `json:"tier"`
	Comparisons int       `json:"comparisons"`
	Signals     int       `json:"signals"`
	Boosts      int       `json:"boosts"`
	PublishedAt time.Time `json:"published_at"`
}

// HandleGetScore handles GET /scores/{item_id} requests.
func (h *ScoresHandler) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	itemID := strings.TrimPrefix(r.URL.Path, "/scores/")
	if itemID == "" || strings.Contains(itemID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	view, err := h.deps.Score(r.Context(), itemID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	case errors.Is(err, repository.ErrNotScored):
		writeError(w, http.StatusNotFound, "not_scored", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}

	writeJSON(w, http.StatusOK, scoreResponse{
		ItemID:      view.Published.ItemID,
		Score:       view.Published.Score,
		Confidence:  view.Published.Confidence,
		Tier:        view.Published.Tier,
		Comparisons: view.Comparisons,
		Signals:     view.Signals,
		Boosts:      view.Boosts,
		PublishedAt: view.Published.PublishedAt,
	})
}
