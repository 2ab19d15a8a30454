package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/briefsmith/internal/identity"
)

const maxListLimit = 200

// ListRuns returns the caller's newest runs. The optional limit query
// parameter caps the result.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	ownerID := identity.OwnerIDFromContext(r.Context())
	runs, err := h.repo.ListRuns(r.Context(), ownerID, limit)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err, "owner_id", ownerID)
		Error(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun returns one run. Runs belonging to another owner are reported as
// not found.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get run", "error", err, "run_id", id)
		Error(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil || run.OwnerID != identity.OwnerIDFromContext(r.Context()) {
		Error(w, http.StatusNotFound, "run not found")
		return
	}

	JSON(w, http.StatusOK, run)
}
