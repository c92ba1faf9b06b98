package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"calgrid/internal/model"
)

// Export serializes events as a VCALENDAR. Times are written in UTC after
// interpreting the stored wall clock in loc; all-day events become DATE values
// with an exclusive DTEND.
func Export(events []model.Event, name string, loc *time.Location, stamp time.Time) string {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendarFor("calgrid")
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Title)
		if ev.Color != "" {
			ve.SetColor(ev.Color)
		}
		if ev.AllDay() {
			ve.SetAllDayStartAt(ev.Date.Time(loc))
			ve.SetAllDayEndAt(ev.EndDate.AddDays(1).Time(loc))
			continue
		}
		ve.SetStartAt(ev.Start(loc))
		ve.SetEndAt(ev.End(loc))
	}
	return cal.Serialize()
}
