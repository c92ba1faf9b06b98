// Package calendar builds month, week and day views over an event source and
// keeps the selected view in sync with bus messages.
package calendar

import (
	"strings"
	"time"

	"calgrid/internal/model"
)

// StartOfWeek returns the first day of the week containing d.
func StartOfWeek(d model.Day, weekStart time.Weekday) model.Day {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDays(-offset)
}

// WeekDays returns the seven days of the week containing date.
func WeekDays(date model.Day, weekStart time.Weekday) []model.Day {
	first := StartOfWeek(date, weekStart)
	out := make([]model.Day, 7)
	for i := range out {
		out[i] = first.AddDays(i)
	}
	return out
}

// MonthDays returns the full weeks covering date's month: 28, 35 or 42 days
// starting on weekStart.
func MonthDays(date model.Day, weekStart time.Weekday) []model.Day {
	y, m, _ := date.Date()
	first := model.NewDay(y, m, 1)
	last := model.NewDay(y, m+1, 1).AddDays(-1)

	from := StartOfWeek(first, weekStart)
	to := StartOfWeek(last, weekStart).AddDays(6)

	out := make([]model.Day, 0, int(to-from)+1)
	for d := from; d <= to; d++ {
		out = append(out, d)
	}
	return out
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, bool) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := wd.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return wd, true
		}
	}
	return 0, false
}
