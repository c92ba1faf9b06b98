package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinutesPerDay bounds StartTime/EndTime. 0 is midnight, 1440 the following midnight.
const MinutesPerDay = 1440

// Validation errors.
var (
	ErrMissingID            = errors.New("event id is required")
	ErrEmptyTitle           = errors.New("event title is required")
	ErrEndDateBeforeStart   = errors.New("event end date must be the same or after the start date")
	ErrEndTimeNotAfterStart = errors.New("event end time must be after start time")
	ErrTimeOutOfRange       = errors.New("event time must be within the day")
)

// Event is a calendar entry spanning the inclusive day range [Date, EndDate].
//
// StartTime applies to the first day and EndTime to the last one; days in
// between are covered fully. Multi-day time ranges are expressed only through
// Date/EndDate.
type Event struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Date      Day    `json:"date"`
	EndDate   Day    `json:"endDate"`
	StartTime int    `json:"startTime"`
	EndTime   int    `json:"endTime"`
	Color     string `json:"color"`

	// Source is the ICS source id for imported events; empty for local ones.
	Source string `json:"source,omitempty"`
}

// AllDay reports whether the event covers the whole day.
func (e Event) AllDay() bool {
	return e.StartTime == 0 && e.EndTime == MinutesPerDay
}

func (e Event) MultiDay() bool {
	return e.EndDate != e.Date
}

// Covers reports whether day lies within [Date, EndDate].
func (e Event) Covers(day Day) bool {
	return day >= e.Date && day <= e.EndDate
}

// Days is the number of calendar days the event covers.
func (e Event) Days() int {
	return int(e.EndDate-e.Date) + 1
}

// ProjectOn returns the event as seen on day: full day strictly between the
// bounds, (StartTime, 1440) on the first day of a multi-day span, (0, EndTime)
// on the last one, and unchanged for single-day events. The receiver is never
// modified. ok is false if the event does not cover day.
func (e Event) ProjectOn(day Day) (Event, bool) {
	if !e.Covers(day) {
		return Event{}, false
	}
	p := e
	switch {
	case !e.MultiDay():
	case day > e.Date && day < e.EndDate:
		p.StartTime, p.EndTime = 0, MinutesPerDay
	case day == e.Date:
		p.EndTime = MinutesPerDay
	case day == e.EndDate:
		p.StartTime = 0
	}
	return p, true
}

// Start and End return the absolute bounds of the event in loc.
func (e Event) Start(loc *time.Location) time.Time {
	return e.Date.Time(loc).Add(time.Duration(e.StartTime) * time.Minute)
}

func (e Event) End(loc *time.Location) time.Time {
	return e.EndDate.Time(loc).Add(time.Duration(e.EndTime) * time.Minute)
}

func (e Event) String() string {
	return fmt.Sprintf("%s[%s %s..%s %s]", e.ID, e.Date, FormatMinutes(e.StartTime), e.EndDate, FormatMinutes(e.EndTime))
}

// Validate checks the record invariants.
func Validate(e Event) error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if e.StartTime < 0 || e.StartTime >= MinutesPerDay || e.EndTime <= 0 || e.EndTime > MinutesPerDay {
		return ErrTimeOutOfRange
	}
	if e.EndDate < e.Date {
		return ErrEndDateBeforeStart
	}
	if e.EndDate == e.Date && e.StartTime >= e.EndTime {
		return ErrEndTimeNotAfterStart
	}
	return nil
}

// FormatMinutes renders minutes-of-day as HH:MM; 1440 renders as 24:00.
func FormatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// MinutesOf returns t's offset from its local midnight in whole minutes.
func MinutesOf(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Occurrence represents a single concrete instance of an imported event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary string
	Color   string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}
