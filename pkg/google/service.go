package google

import (
	"context"
	"fmt"
	"time"

	"github.com/shotasten/union-board/internal/config"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

type CalendarItem struct {
	ID      string
	Summary string
}

type Service interface {
	GetCalendar(ctx context.Context) (*Calendar, error)
	ListCalendars(ctx context.Context) ([]CalendarItem, error)
}

type ServiceImpl struct {
	auth       *GoogleAuth
	calendarId string
	location   *time.Location
}

func NewService(auth *GoogleAuth, cfg config.Application) *ServiceImpl {
	return &ServiceImpl{
		auth:       auth,
		calendarId: cfg.Google.CalendarId,
		location:   cfg.Sync.Location(),
	}
}

// GetCalendar returns the configured shared calendar, or ErrUnathenticated
// while no Google account is connected.
func (s *ServiceImpl) GetCalendar(ctx context.Context) (*Calendar, error) {
	if s.calendarId == "" {
		return nil, fmt.Errorf("google calendar id is not configured")
	}
	service, err := s.prepareGoogleService(ctx)
	if err != nil {
		return nil, err
	}
	return newGoogleCalendar(service, s.calendarId, s.location), nil
}

func (s *ServiceImpl) ListCalendars(ctx context.Context) ([]CalendarItem, error) {
	googleService, err := s.prepareGoogleService(ctx)
	if err != nil {
		return nil, err
	}
	calendars, err := googleService.CalendarList.List().Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to retrieve calendars from Google Calendar: %w", err)
		log.Error(err)
		return nil, err
	}
	var googleCalendars []CalendarItem
	for _, cal := range calendars.Items {
		googleCalendars = append(googleCalendars, CalendarItem{
			ID:      cal.Id,
			Summary: cal.Summary,
		})
	}
	return googleCalendars, nil
}

func (s *ServiceImpl) prepareGoogleService(ctx context.Context) (*calendar.Service, error) {
	client, err := s.auth.getClient(ctx)
	if err != nil {
		err := fmt.Errorf("unable to retrieve Google auth client: %w", err)
		log.Error(err)
		return nil, err
	}
	if client == nil {
		log.Debug("google account is not connected, authentication is required")
		return nil, ErrUnathenticated
	}
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		err := fmt.Errorf("unable to retrieve Calendar client: %w", err)
		log.Error(err)
		return nil, err
	}

	return service, nil
}
