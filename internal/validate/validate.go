// Package validate turns candidate events into events that are safe to
// send to a calendar.
package validate

import (
	"fmt"
	"strings"
	"time"

	"doccal/internal/models"
)

const (
	dateLayout = "2006-01-02"

	// ReasonInvalidDate is the rejection reason for unusable dates.
	ReasonInvalidDate = "invalid date"
	// WarningEmptyTitle is attached to accepted events without a title.
	WarningEmptyTitle = "empty title"
)

// Validator places date-only candidates at a fixed time of day.
type Validator struct {
	loc       *time.Location
	startHour int
	duration  time.Duration
}

// New returns a Validator that starts events at startHour:00 in loc and
// gives them the given duration.
func New(loc *time.Location, startHour int, duration time.Duration) *Validator {
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{loc: loc, startHour: startHour, duration: duration}
}

// Validate derives a ValidatedEvent from c. An unparsable date rejects the
// candidate with an error wrapping models.ErrInvalidEventDate. An empty
// title is accepted and flagged with WarningEmptyTitle.
func (v *Validator) Validate(c models.CandidateEvent) (models.ValidatedEvent, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(c.Date), v.loc)
	if err != nil {
		return models.ValidatedEvent{}, fmt.Errorf("%w: %q", models.ErrInvalidEventDate, c.Date)
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), v.startHour, 0, 0, 0, v.loc)
	ev := models.ValidatedEvent{
		Title:       c.Title,
		Description: c.Description,
		Start:       start,
		End:         start.Add(v.duration),
		Source:      c,
	}
	if strings.TrimSpace(c.Title) == "" {
		ev.Warning = WarningEmptyTitle
	}
	return ev, nil
}
