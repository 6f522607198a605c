package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shotasten/union-board/internal/utils"
	"github.com/shotasten/union-board/pkg/calendar"
	log "github.com/sirupsen/logrus"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

var ErrUnathenticated = fmt.Errorf("google account is not connected, authentication is required")

// Calendar is a calendar.Store backed by one Google calendar.
type Calendar struct {
	service    *gcal.Service
	calendarId string
	location   *time.Location
}

func newGoogleCalendar(service *gcal.Service, calendarId string, location *time.Location) *Calendar {
	return &Calendar{
		service:    service,
		calendarId: calendarId,
		location:   location,
	}
}

func (c *Calendar) GetEventById(ctx context.Context, id string) (calendar.ExternalEvent, error) {
	item, err := c.service.Events.Get(c.calendarId, id).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return calendar.ExternalEvent{}, calendar.ErrEventNotFound
		}
		err := fmt.Errorf("unable to retrieve event %s from Google Calendar: %w", id, err)
		log.Error(err)
		return calendar.ExternalEvent{}, err
	}
	// Deleted events stay readable by id with a cancelled status.
	if item.Status == "cancelled" {
		return calendar.ExternalEvent{}, calendar.ErrEventNotFound
	}
	return c.toExternalEvent(item)
}

func (c *Calendar) ListEvents(ctx context.Context, start, end time.Time) ([]calendar.ExternalEvent, error) {
	var events []calendar.ExternalEvent
	err := c.service.Events.List(c.calendarId).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		OrderBy("startTime").
		MaxResults(250).
		Pages(ctx, func(page *gcal.Events) error {
			for _, item := range page.Items {
				event, err := c.toExternalEvent(item)
				if err != nil {
					log.Warnf("skipping unreadable Google Calendar event %s: %v", item.Id, err)
					continue
				}
				events = append(events, event)
			}
			return nil
		})
	if err != nil {
		err := fmt.Errorf("unable to retrieve events from Google Calendar: %w", err)
		log.Error(err)
		return nil, err
	}
	return events, nil
}

func (c *Calendar) CreateEvent(ctx context.Context, title string, start, end time.Time, opts calendar.EventOptions) (calendar.ExternalEvent, error) {
	log.Debugf("Adding event %q (%s - %s) to calendar %s", title, start, end, c.calendarId)
	return c.insert(ctx, &gcal.Event{
		Summary:     title,
		Location:    opts.Location,
		Description: opts.Description,
		Start:       c.dateTime(start),
		End:         c.dateTime(end),
	})
}

func (c *Calendar) CreateAllDayEvent(ctx context.Context, title string, startDate, endDate time.Time, opts calendar.EventOptions) (calendar.ExternalEvent, error) {
	log.Debugf("Adding all-day event %q (%s - %s) to calendar %s", title,
		utils.DateKey(startDate, c.location), utils.DateKey(endDate, c.location), c.calendarId)
	return c.insert(ctx, &gcal.Event{
		Summary:     title,
		Location:    opts.Location,
		Description: opts.Description,
		Start:       c.date(startDate),
		End:         c.date(endDate),
	})
}

func (c *Calendar) insert(ctx context.Context, event *gcal.Event) (calendar.ExternalEvent, error) {
	result, err := c.service.Events.Insert(c.calendarId, event).Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to insert event in Google Calendar: %w", err)
		log.Error(err)
		return calendar.ExternalEvent{}, err
	}
	return c.toExternalEvent(result)
}

// UpdateFields patches only the given fields, so edits made on the calendar
// to other fields survive.
func (c *Calendar) UpdateFields(ctx context.Context, id string, update calendar.FieldsUpdate) (calendar.ExternalEvent, error) {
	patch := &gcal.Event{}
	if update.Title != nil {
		patch.Summary = *update.Title
		patch.ForceSendFields = append(patch.ForceSendFields, "Summary")
	}
	if update.Location != nil {
		patch.Location = *update.Location
		patch.ForceSendFields = append(patch.ForceSendFields, "Location")
	}
	if update.Description != nil {
		patch.Description = *update.Description
		patch.ForceSendFields = append(patch.ForceSendFields, "Description")
	}
	if update.Start != nil && update.End != nil {
		if update.AllDay {
			patch.Start = c.date(*update.Start)
			patch.End = c.date(*update.End)
		} else {
			patch.Start = c.dateTime(*update.Start)
			patch.End = c.dateTime(*update.End)
		}
	}

	result, err := c.service.Events.Patch(c.calendarId, id, patch).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return calendar.ExternalEvent{}, calendar.ErrEventNotFound
		}
		err := fmt.Errorf("unable to update event %s in Google Calendar: %w", id, err)
		log.Error(err)
		return calendar.ExternalEvent{}, err
	}
	return c.toExternalEvent(result)
}

func (c *Calendar) DeleteEvent(ctx context.Context, id string) error {
	err := c.service.Events.Delete(c.calendarId, id).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return calendar.ErrEventNotFound
		}
		err := fmt.Errorf("unable to delete event %s from Google Calendar: %w", id, err)
		log.Error(err)
		return err
	}
	return nil
}

func (c *Calendar) dateTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{
		DateTime:   t.In(c.location).Format(time.RFC3339),
		TimeZone:   c.location.String(),
		NullFields: []string{"Date"},
	}
}

func (c *Calendar) date(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{
		Date:       utils.DateKey(t, c.location),
		NullFields: []string{"DateTime", "TimeZone"},
	}
}

func (c *Calendar) toExternalEvent(item *gcal.Event) (calendar.ExternalEvent, error) {
	if item.Start == nil || item.End == nil {
		return calendar.ExternalEvent{}, fmt.Errorf("event %s has no start or end", item.Id)
	}
	event := calendar.ExternalEvent{
		Id:          item.Id,
		Title:       item.Summary,
		Location:    item.Location,
		Description: item.Description,
	}

	var err error
	if item.Start.Date != "" {
		event.IsAllDay = true
		if event.Start, err = utils.ParseDate(item.Start.Date, c.location); err != nil {
			return calendar.ExternalEvent{}, fmt.Errorf("invalid start date %q: %w", item.Start.Date, err)
		}
		if event.End, err = utils.ParseDate(item.End.Date, c.location); err != nil {
			return calendar.ExternalEvent{}, fmt.Errorf("invalid end date %q: %w", item.End.Date, err)
		}
	} else {
		if event.Start, err = time.Parse(time.RFC3339, item.Start.DateTime); err != nil {
			return calendar.ExternalEvent{}, fmt.Errorf("invalid start time %q: %w", item.Start.DateTime, err)
		}
		if event.End, err = time.Parse(time.RFC3339, item.End.DateTime); err != nil {
			return calendar.ExternalEvent{}, fmt.Errorf("invalid end time %q: %w", item.End.DateTime, err)
		}
	}

	if item.Updated != "" {
		if event.LastModified, err = time.Parse(time.RFC3339Nano, item.Updated); err != nil {
			log.Warnf("event %s has an unreadable updated timestamp %q", item.Id, item.Updated)
		}
	}
	return event, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
