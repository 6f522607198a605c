package calendar_provider

import (
	"context"
	"fmt"
	"time"

	"github.com/shotasten/union-board/pkg/calendar"
	"github.com/shotasten/union-board/pkg/google"
)

// CalendarProvider is a calendar.Store that resolves the Google calendar on
// every call, so the service can start before the account is connected and
// picks up a new token without a restart.
type CalendarProvider struct {
	googleService google.Service
}

func NewCalendarProvider(googleService google.Service) *CalendarProvider {
	return &CalendarProvider{
		googleService: googleService,
	}
}

func (c *CalendarProvider) getCalendar(ctx context.Context) (calendar.Store, error) {
	return c.googleService.GetCalendar(ctx)
}

func (c *CalendarProvider) GetEventById(ctx context.Context, id string) (calendar.ExternalEvent, error) {
	cal, err := c.getCalendar(ctx)
	if err != nil {
		return calendar.ExternalEvent{}, fmt.Errorf("failed to get calendar when getting event: %w", err)
	}
	return cal.GetEventById(ctx, id)
}

func (c *CalendarProvider) ListEvents(ctx context.Context, start, end time.Time) ([]calendar.ExternalEvent, error) {
	cal, err := c.getCalendar(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar when listing events: %w", err)
	}
	return cal.ListEvents(ctx, start, end)
}

func (c *CalendarProvider) CreateEvent(ctx context.Context, title string, start, end time.Time, opts calendar.EventOptions) (calendar.ExternalEvent, error) {
	cal, err := c.getCalendar(ctx)
	if err != nil {
		return calendar.ExternalEvent{}, fmt.Errorf("failed to get calendar when adding event: %w", err)
	}
	return cal.CreateEvent(ctx, title, start, end, opts)
}

func (c *CalendarProvider) CreateAllDayEvent(ctx context.Context, title string, startDate, endDate time.Time, opts calendar.EventOptions) (calendar.ExternalEvent, error) {
	cal, err := c.getCalendar(ctx)
	if err != nil {
		return calendar.ExternalEvent{}, fmt.Errorf("failed to get calendar when adding all-day event: %w", err)
	}
	return cal.CreateAllDayEvent(ctx, title, startDate, endDate, opts)
}

func (c *CalendarProvider) UpdateFields(ctx context.Context, id string, update calendar.FieldsUpdate) (calendar.ExternalEvent, error) {
	cal, err := c.getCalendar(ctx)
	if err != nil {
		return calendar.ExternalEvent{}, fmt.Errorf("failed to get calendar when modifying event: %w", err)
	}
	return cal.UpdateFields(ctx, id, update)
}

func (c *CalendarProvider) DeleteEvent(ctx context.Context, id string) error {
	cal, err := c.getCalendar(ctx)
	if err != nil {
		return fmt.Errorf("failed to get calendar when deleting event: %w", err)
	}
	return cal.DeleteEvent(ctx, id)
}
