// Package calendar renders merged appointment views as iCalendar feeds.
package calendar

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"terminsync/internal/appointments"
)

const productID = "-//terminsync//appointments//DE"

// UID is stable per source record, so clients re-importing a feed update
// events in place.
func UID(e appointments.Entry) string {
	return fmt.Sprintf("%s-%s@terminsync", e.Source, e.ID)
}

// Build turns entries into a calendar named name. stamp becomes DTSTAMP of
// every event.
func Build(name string, entries []appointments.Entry, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	for _, e := range entries {
		ev := cal.AddEvent(UID(e))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(e.Start.UTC())
		ev.SetEndAt(e.End.UTC())
		ev.SetSummary(e.Title)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		ev.SetProperty(ical.ComponentPropertyCategories, string(e.Source))
		if e.Sender != "" {
			ev.SetProperty(ical.ComponentProperty("X-TERMINSYNC-SENDER"), e.Sender)
		}
	}
	return cal
}

// Write serializes entries as an .ics document to w.
func Write(w io.Writer, name string, entries []appointments.Entry, stamp time.Time) error {
	if err := Build(name, entries, stamp).SerializeTo(w); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}
