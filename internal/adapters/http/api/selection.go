package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/muselab/aura/internal/domain/selection"
)

// SelectionHandler handles next-observation requests.
type SelectionHandler struct {
	deps Dependencies
}

// NewSelectionHandler creates a new selection handler.
func NewSelectionHandler(deps Dependencies) *SelectionHandler {
	return &SelectionHandler{deps: deps}
}

// selectionRequest mirrors the schema for POST /selection. Pool is the
// caller's eligible item ids; empty means every tracked item.
type selectionRequest struct {
	Mode string   `json:"mode"` // "pair" or "single"
	Pool []string `json:"pool,omitempty"`
}

type pairResponse struct {
	Mode      string `json:"mode"`
	ItemA     string `json:"item_a"`
	ItemB     string `json:"item_b"`
	Rationale string `json:"rationale"`
	Repeated  bool   `json:"repeated"`
}

type singleResponse struct {
	Mode      string `json:"mode"`
	ItemID    string `json:"item_id"`
	Rationale string `json:"rationale"`
}

// HandlePostSelection handles POST /selection requests.
func (h *SelectionHandler) HandlePostSelection(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_selection"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}

	switch req.Mode {
	case "pair":
		pair, err := h.deps.NextPair(r.Context(), req.Pool)
		if err != nil {
			writeSelectionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pairResponse{
			Mode:      "pair",
			ItemA:     pair.A,
			ItemB:     pair.B,
			Rationale: pair.Rationale,
			Repeated:  pair.Repeated,
		})
	case "single":
		single, err := h.deps.NextSingle(r.Context(), req.Pool)
		if err != nil {
			writeSelectionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, singleResponse{
			Mode:      "single",
			ItemID:    single.ID,
			Rationale: single.Rationale,
		})
	default:
		writeError(w, http.StatusBadRequest, "bad_request",
			fmt.Errorf("%s: %w: mode must be pair or single", op, ErrBadRequest))
	}
}

func writeSelectionError(w http.ResponseWriter, err error) {
	if errors.Is(err, selection.ErrEmptyPool) || errors.Is(err, selection.ErrPoolTooSmall) {
		writeError(w, http.StatusConflict, "pool_too_small", err)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", err)
}
