package icloud

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"doccal/internal/models"
)

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//doccal//EN")
	return cal
}

// toICal converts a ValidatedEvent to a VEVENT component.
func toICal(ev models.ValidatedEvent, uid string) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, ev.End)

	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}
	return ve
}

// ErrNoEvents is returned by EncodeICS when there is nothing to encode.
// An iCalendar object must contain at least one component.
var ErrNoEvents = errors.New("no events to encode")

// EncodeICS writes events as one iCalendar document, for import into any
// calendar application. Nothing is written when events is empty.
func EncodeICS(w io.Writer, events []models.ValidatedEvent) error {
	if len(events) == 0 {
		return ErrNoEvents
	}
	cal := newCalendar()
	for _, ev := range events {
		cal.Children = append(cal.Children, toICal(ev, GenerateUID()))
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode events to iCal format: %w", err)
	}
	return nil
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
