package calendar_sync

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shotasten/union-board/internal/rest"
	"github.com/shotasten/union-board/pkg/ledger"
	log "github.com/sirupsen/logrus"
)

type SyncEventResponse struct {
	ExternalRef string `json:"externalRef"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service}
}

// SyncAll godoc
// @Summary Reconcile the ledger with the calendar
// @Description Pulls calendar edits, recreates lost calendar events and refreshes attendance summaries.
// @Tags Sync
// @Produce json
// @Param window query bool false "Limit the pass to the configured window (default true)"
// @Success 200 {object} Result
// @Failure 400 {object} rest.ErrorResponse
// @Failure 502 {object} rest.ErrorResponse
// @Router /api/sync [post]
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	limitToWindow := true
	if value := r.URL.Query().Get("window"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			rest.WriteError(w, http.StatusBadRequest, "Invalid window parameter", err.Error())
			return
		}
		limitToWindow = parsed
	}

	result, err := h.service.SyncAll(r.Context(), limitToWindow)
	if err != nil {
		rest.WriteError(w, http.StatusBadGateway, "Sync could not start", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// SyncEvent godoc
// @Summary Push a single event to the calendar
// @Tags Sync
// @Produce json
// @Param eventId path string true "Ledger event id"
// @Success 200 {object} SyncEventResponse
// @Failure 400 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Failure 409 {object} rest.ErrorResponse
// @Failure 502 {object} rest.ErrorResponse
// @Router /api/sync/event/{eventId} [post]
func (h *Handler) SyncEvent(w http.ResponseWriter, r *http.Request) {
	eventId := mux.Vars(r)["eventId"]
	log.Debugf("Syncing event %s", eventId)

	externalRef, err := h.service.SyncOneEvent(r.Context(), eventId)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidEventId):
			rest.WriteError(w, http.StatusBadRequest, "Invalid event id", "")
		case errors.Is(err, ledger.ErrEventNotFound):
			rest.WriteError(w, http.StatusNotFound, "Event not found", "")
		case errors.Is(err, ErrEventNotActive):
			rest.WriteError(w, http.StatusConflict, "Event is not active", "")
		default:
			rest.WriteError(w, http.StatusBadGateway, "Failed to sync event", err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(SyncEventResponse{ExternalRef: externalRef}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
