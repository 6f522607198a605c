package google

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shotasten/union-board/internal/rest"
)

type CalendarItemDto struct {
	Id      string `json:"id"`
	Summary string `json:"summary"`
}

type Handler struct {
	service Service
}

func NewHandler(s Service) *Handler {
	return &Handler{s}
}

// ListCalendars godoc
// @Summary List calendars of the connected Google account
// @Description Used to pick the calendar id the ledger is mirrored into.
// @Produce json
// @Success 200 {array} CalendarItemDto
// @Failure 403 {object} rest.ErrorResponse
// @Router /api/integrations/google/calendars [get]
func (h *Handler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	calendars, err := h.service.ListCalendars(r.Context())
	if err != nil {
		if errors.Is(err, ErrUnathenticated) {
			rest.WriteError(w, http.StatusForbidden, "Google account is not connected", "")
			return
		}
		rest.WriteError(w, http.StatusInternalServerError, "Failed to list calendars", err.Error())
		return
	}

	calendarItems := make([]CalendarItemDto, 0, len(calendars))
	for _, c := range calendars {
		calendarItems = append(calendarItems, toCalendarItemDto(c))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(calendarItems); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func toCalendarItemDto(ci CalendarItem) CalendarItemDto {
	return CalendarItemDto{
		Id:      ci.ID,
		Summary: ci.Summary,
	}
}
