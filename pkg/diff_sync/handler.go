package diff_sync

import (
	"encoding/json"
	"net/http"

	"github.com/shotasten/union-board/internal/rest"
)

type Handler struct {
	scheduler *Scheduler
}

func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler}
}

// Run godoc
// @Summary Refresh summaries of events with new responses
// @Description Skipped when the previous run finished less than the configured interval ago.
// @Tags Sync
// @Produce json
// @Success 200 {object} Report
// @Failure 500 {object} rest.ErrorResponse
// @Router /api/sync/diff [post]
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.Run(r.Context())
	if err != nil {
		rest.WriteError(w, http.StatusInternalServerError, "Diff sync failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
