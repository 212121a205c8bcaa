package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	repository "github.com/muselab/aura/internal/adapters/repository"
)

// AdminHandler handles recompute and exclusion requests.
type AdminHandler struct {
	deps Dependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps Dependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

// recomputeRequest mirrors the schema for POST /admin/recompute.
// An empty item_id recomputes every item.
type recomputeRequest struct {
	ItemID string `json:"item_id"`
}

type recomputeResponse struct {
	Status string `json:"status"`
	Marked int    `json:"marked"`
}

// exclusionRequest mirrors the schema for POST /admin/exclusions.
type exclusionRequest struct {
	ItemID   string `json:"item_id"`
	Excluded bool   `json:"excluded"`
}

// HandleRecompute handles POST /admin/recompute requests.
func (h *AdminHandler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_recompute"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req recomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}

	marked, err := h.deps.Recompute(r.Context(), req.ItemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusAccepted, recomputeResponse{Status: "accepted", Marked: marked})
}

// HandleExclusions handles POST /admin/exclusions requests.
func (h *AdminHandler) HandleExclusions(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_exclusions"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req exclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.ItemID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: missing item_id", op, ErrBadRequest))
		return
	}

	h.deps.SetExcluded(r.Context(), req.ItemID, req.Excluded)
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":  req.ItemID,
		"excluded": req.Excluded,
	})
}
