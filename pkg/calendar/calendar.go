package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned when the calendar has no live event for an id.
// Callers treat it as a signal to recreate rather than as a failure.
var ErrEventNotFound = errors.New("calendar event not found")

// Store is the external calendar holding the shared copy of ledger events.
type Store interface {
	GetEventById(ctx context.Context, id string) (ExternalEvent, error)
	// ListEvents returns events overlapping [start, end], ordered by start.
	ListEvents(ctx context.Context, start, end time.Time) ([]ExternalEvent, error)
	CreateEvent(ctx context.Context, title string, start, end time.Time, opts EventOptions) (ExternalEvent, error)
	// CreateAllDayEvent creates an event spanning whole days. endDate is exclusive.
	CreateAllDayEvent(ctx context.Context, title string, startDate, endDate time.Time, opts EventOptions) (ExternalEvent, error)
	UpdateFields(ctx context.Context, id string, update FieldsUpdate) (ExternalEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}
