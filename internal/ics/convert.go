package ics

import (
	"time"

	"github.com/google/uuid"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// idSpace namespaces imported event ids so the same occurrence always maps to
// the same id across syncs.
var idSpace = uuid.MustParse("5b0e3f1c-8c1a-4d5e-9a57-2f1f6d1c0a11")

// EventID is the stable store id of one occurrence.
func EventID(o model.Occurrence) string {
	return uuid.NewSHA1(idSpace, []byte(o.SourceID+"\x00"+o.UID+"\x00"+o.InstanceKey)).String()
}

// ToEvent converts an occurrence into the store's day/minute form. All-day
// occurrences span 0..1440 with an inclusive end date; a timed occurrence
// ending exactly at midnight ends at 1440 on the previous day.
func ToEvent(o model.Occurrence) (model.Event, error) {
	ev := model.Event{
		ID:     EventID(o),
		Title:  o.Summary,
		Color:  o.Color,
		Source: o.SourceID,
	}

	startDay := model.DayOf(o.Start)
	endDay := model.DayOf(o.End)

	if o.AllDay {
		ev.Date = startDay
		ev.EndDate = model.MaxDay(startDay, endDay.AddDays(-1))
		ev.StartTime, ev.EndTime = 0, model.MinutesPerDay
		return ev, model.Validate(ev)
	}

	ev.Date = startDay
	ev.StartTime = model.MinutesOf(o.Start)
	ev.EndDate = endDay
	ev.EndTime = model.MinutesOf(o.End)
	if ev.EndTime == 0 && endDay > startDay {
		ev.EndDate = endDay.AddDays(-1)
		ev.EndTime = model.MinutesPerDay
	}
	// Sub-minute events would collapse to an empty range.
	if ev.EndDate == ev.Date && ev.EndTime <= ev.StartTime {
		ev.EndTime = min(ev.StartTime+1, model.MinutesPerDay)
	}
	return ev, model.Validate(ev)
}

// ToEvents converts occurrences, dropping (and logging) any that do not form
// a valid event.
func ToEvents(occs []model.Occurrence) []model.Event {
	out := make([]model.Event, 0, len(occs))
	for _, o := range occs {
		ev, err := ToEvent(o)
		if err != nil {
			appLog.Warn("ics occurrence dropped", "source", o.SourceID, "uid", o.UID, "start", o.Start.Format(time.RFC3339), "err", err.Error())
			continue
		}
		out = append(out, ev)
	}
	return out
}
