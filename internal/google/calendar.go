package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"doccal/internal/models"
)

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
}

// NewCalendarClient creates a Google Calendar client that writes to
// calendarID using an already authorized HTTP client.
func NewCalendarClient(ctx context.Context, logger *slog.Logger, httpClient *http.Client, calendarID string, opts ...option.ClientOption) (*CalendarClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger, calendarID: calendarID}, nil
}

// InsertEvent creates one event and returns the ID the API assigned to it.
func (c *CalendarClient) InsertEvent(ctx context.Context, ev models.ValidatedEvent) (string, error) {
	c.logger.Debug("Inserting event", "title", ev.Title, "start", ev.Start, "calendarID", c.calendarID)

	created, err := c.service.Events.Insert(c.calendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: calendar API returned %d: %s", models.ErrRemoteInsertion, apiErr.Code, apiErr.Message)
		}
		return "", fmt.Errorf("%w: %w", models.ErrRemoteInsertion, err)
	}

	c.logger.Info("Successfully inserted event into Google Calendar", "title", ev.Title, "id", created.Id)
	return created.Id, nil
}

// CalendarInfo describes a calendar the account can see.
type CalendarInfo struct {
	ID         string
	Summary    string
	AccessRole string
}

// ListCalendars returns the calendars associated with the authenticated account.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var out []CalendarInfo
	for _, item := range list.Items {
		out = append(out, CalendarInfo{ID: item.Id, Summary: item.Summary, AccessRole: item.AccessRole})
	}
	return out, nil
}

// toGoogleEvent converts a ValidatedEvent to the Calendar API representation.
func toGoogleEvent(ev models.ValidatedEvent) *calendar.Event {
	tz := ianaZone(ev.TimeZone())
	return &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: tz},
	}
}

// ianaZone returns the zone name if the API can understand it. Otherwise
// the offset inside the RFC 3339 timestamp is authoritative.
func ianaZone(name string) string {
	if name == "Local" {
		return ""
	}
	if _, err := time.LoadLocation(name); err != nil {
		return ""
	}
	return name
}
