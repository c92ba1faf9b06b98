package model

import (
	"fmt"
	"strings"
	"time"
)

// DayLayout is the wire format for Day values (JSON, YAML, query params, SQLite).
const DayLayout = "2006-01-02"

// Day is a calendar day without time-of-day or zone, stored as the number of
// days since 1970-01-01. Ordering and arithmetic are plain integer ops.
type Day int32

// NewDay builds a Day from its civil components. Out-of-range month/day values
// are normalized the same way time.Date does.
func NewDay(year int, month time.Month, day int) Day {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Day(t.Unix() / 86400)
}

// DayOf returns the calendar day of t in t's own location.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("model: invalid day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// MustParseDay is ParseDay for literals in tests and defaults.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Day) AddDays(n int) Day { return d + Day(n) }

func (d Day) Before(o Day) bool { return d < o }

func (d Day) After(o Day) bool { return d > o }

// Compare returns -1, 0 or +1.
func (d Day) Compare(o Day) int {
	switch {
	case d < o:
		return -1
	case d > o:
		return 1
	default:
		return 0
	}
}

// Time returns midnight of d in loc.
func (d Day) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	u := time.Unix(int64(d)*86400, 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
}

func (d Day) Weekday() time.Weekday { return d.Time(time.UTC).Weekday() }

// Date returns the civil components of d.
func (d Day) Date() (int, time.Month, int) { return d.Time(time.UTC).Date() }

func (d Day) String() string { return d.Time(time.UTC).Format(DayLayout) }

func (d Day) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Day) UnmarshalText(b []byte) error {
	v, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MinDay and MaxDay return the earlier/later of two days.
func MinDay(a, b Day) Day {
	if a < b {
		return a
	}
	return b
}

func MaxDay(a, b Day) Day {
	if a > b {
		return a
	}
	return b
}
