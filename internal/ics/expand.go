package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

var ErrExpandRange = errors.New("ics: expand range end is before start")

type ExpandConfig struct {
	// DisplayLocation defaults to time.Local.
	DisplayLocation *time.Location

	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps unbounded rules; 0 means 5000.
	MaxOccurrencesPerEvent int
}

type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents lists UIDs cut off at MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// ExpandOccurrences turns parsed VEVENTs into concrete occurrences overlapping
// [RangeStart, RangeEnd], applying RRULE, EXDATE and RECURRENCE-ID overrides.
// Occurrences are converted into DisplayLocation.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, ErrExpandRange
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	allOccurrences := make([]model.Occurrence, 0)

	for uid, baseEvents := range baseByUID {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseEvents {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			allOccurrences = append(allOccurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Occurrences = allOccurrences
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	var out []model.Occurrence

	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return out
	}

	instance := ev
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		instance = o
	}
	out = append(out, makeOccurrence(instance, instance.Start, instance.End, ev.Start, cfg.DisplayLocation))
	return out
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}

	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Between compares wall clocks in the rule's location.
	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)

	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	days := allDaySpan(ev)
	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			// Calendar days rather than hours so DST shifts keep midnight.
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occEnd = occStart.AddDate(0, 0, days)
		} else {
			occEnd = occStart.Add(ev.Duration())
		}

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			out = append(out, makeOccurrence(o, o.Start, o.End, occStart, cfg.DisplayLocation))
			continue
		}
		out = append(out, makeOccurrence(ev, occStart, occEnd, occStart, cfg.DisplayLocation))
	}

	return out, hitCap
}

// findOverrideForStart returns the override whose RECURRENCE-ID equals baseStart.
func findOverrideForStart(overrides []ParsedEvent, baseStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(baseStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeOccurrence builds one occurrence in displayLoc. instance is the
// unmodified recurrence start, so overrides keep the key of the slot they
// replace.
func makeOccurrence(ev ParsedEvent, start, end, instance time.Time, displayLoc *time.Location) model.Occurrence {
	startLocal := start.In(displayLoc)
	endLocal := end.In(displayLoc)

	if ev.AllDay {
		// All-day dates are floating; keep the calendar date, not the instant.
		startLocal = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, displayLoc)
		endLocal = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, displayLoc)
	}

	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: instance.UTC().Format("20060102T150405Z"),
		Summary:     ev.Summary,
		Color:       ev.Color,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
	}
}

// allDaySpan is the number of calendar days an all-day event covers.
func allDaySpan(ev ParsedEvent) int {
	y1, m1, d1 := ev.Start.Date()
	y2, m2, d2 := ev.End.Date()
	n := int(model.NewDay(y2, m2, d2) - model.NewDay(y1, m1, d1))
	if n < 1 {
		return 1
	}
	return n
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
