package calendar

import (
	"sort"
	"time"

	"calgrid/internal/bus"
	"calgrid/internal/layout"
	"calgrid/internal/model"
)

// Source is the read side of the event store.
type Source interface {
	EventsByDate(day model.Day) []model.Event
}

// MonthCell is one day square of the month grid.
type MonthCell struct {
	Day      model.Day     `json:"day"`
	InMonth  bool          `json:"inMonth"`
	Today    bool          `json:"today"`
	Selected bool          `json:"selected"`
	Events   []model.Event `json:"events"`
}

type MonthView struct {
	Date  model.Day   `json:"date"`
	Weeks int         `json:"weeks"`
	Cells []MonthCell `json:"cells"`
}

// Column is one day of a week or day view.
type Column struct {
	Day          model.Day     `json:"day"`
	Today        bool          `json:"today"`
	Selected     bool          `json:"selected"`
	AllDay       []model.Event `json:"allDay"`
	Timed        []layout.Box  `json:"timed"`
	TotalColumns int           `json:"totalColumns"`
}

// Bar is a multi-day all-day event drawn across the columns it covers,
// clipped to the visible week.
type Bar struct {
	Event       model.Event `json:"event"`
	StartColumn int         `json:"startColumn"`
	EndColumn   int         `json:"endColumn"`
	Left        float64     `json:"left"`
	Right       float64     `json:"right"`
	// Clipped ends: the event continues outside the week.
	ContinuesBefore bool `json:"continuesBefore"`
	ContinuesAfter  bool `json:"continuesAfter"`
}

// NowIndicator marks the current time in today's column.
type NowIndicator struct {
	Column int     `json:"column"`
	Top    float64 `json:"top"`
}

type WeekView struct {
	Date    model.Day     `json:"date"`
	Columns []Column      `json:"columns"`
	Bars    []Bar         `json:"bars"`
	Now     *NowIndicator `json:"now,omitempty"`
}

// View is whichever of the three views is selected.
type View struct {
	Kind  bus.View   `json:"view"`
	Date  model.Day  `json:"date"`
	Month *MonthView `json:"month,omitempty"`
	Week  *WeekView  `json:"week,omitempty"`
}

// Builder renders views from a Source. now supplies the current instant in
// the calendar's time zone.
type Builder struct {
	Source    Source
	WeekStart time.Weekday
	Now       func() time.Time
}

func (b Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

// Build renders kind for date.
func (b Builder) Build(kind bus.View, date model.Day) View {
	v := View{Kind: kind, Date: date}
	switch kind {
	case bus.ViewMonth:
		m := b.Month(date)
		v.Month = &m
	case bus.ViewDay:
		w := b.Day(date)
		v.Week = &w
	default:
		v.Kind = bus.ViewWeek
		w := b.Week(date)
		v.Week = &w
	}
	return v
}

// Month lists every day of the month grid with its projected events, all-day
// events first, then by start time.
func (b Builder) Month(date model.Day) MonthView {
	today := model.DayOf(b.now())
	_, month, _ := date.Date()

	days := MonthDays(date, b.WeekStart)
	out := MonthView{Date: date, Weeks: len(days) / 7, Cells: make([]MonthCell, 0, len(days))}
	for _, d := range days {
		_, m, _ := d.Date()
		out.Cells = append(out.Cells, MonthCell{
			Day:      d,
			InMonth:  m == month,
			Today:    d == today,
			Selected: d == date,
			Events:   monthEvents(b.Source.EventsByDate(d), d),
		})
	}
	return out
}

func monthEvents(events []model.Event, day model.Day) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if p, ok := ev.ProjectOn(day); ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AllDay() != b.AllDay() {
			return a.AllDay()
		}
		return a.StartTime < b.StartTime
	})
	return out
}

// Week renders the seven columns of date's week.
func (b Builder) Week(date model.Day) WeekView {
	return b.week(date, WeekDays(date, b.WeekStart), true)
}

// Day renders date as a single column. Multi-day all-day events stay in the
// all-day list.
func (b Builder) Day(date model.Day) WeekView {
	return b.week(date, []model.Day{date}, false)
}

func (b Builder) week(date model.Day, days []model.Day, bars bool) WeekView {
	now := b.now()
	today := model.DayOf(now)

	out := WeekView{Date: date, Columns: make([]Column, 0, len(days)), Bars: []Bar{}}

	perDay := make([][]model.Event, len(days))
	spanning := map[string]bool{}
	var spanOrder []model.Event
	for i, d := range days {
		perDay[i] = b.Source.EventsByDate(d)
		if !bars {
			continue
		}
		for _, ev := range perDay[i] {
			if ev.MultiDay() && ev.AllDay() && !spanning[ev.ID] {
				spanning[ev.ID] = true
				spanOrder = append(spanOrder, ev)
			}
		}
	}

	for i, d := range days {
		dl := layout.Day(perDay[i], d)
		allDay := make([]model.Event, 0, len(dl.AllDay))
		for _, ev := range dl.AllDay {
			if !spanning[ev.ID] {
				allDay = append(allDay, ev)
			}
		}
		out.Columns = append(out.Columns, Column{
			Day:          d,
			Today:        d == today,
			Selected:     d == date,
			AllDay:       allDay,
			Timed:        dl.Timed.Boxes(),
			TotalColumns: dl.Timed.TotalColumns,
		})
		if d == today {
			out.Now = &NowIndicator{
				Column: i,
				Top:    100 * float64(model.MinutesOf(now)) / model.MinutesPerDay,
			}
		}
	}

	for _, ev := range spanOrder {
		out.Bars = append(out.Bars, spanBar(ev, days))
	}
	return out
}

// spanBar clips ev to days, which must be consecutive and overlap ev.
func spanBar(ev model.Event, days []model.Day) Bar {
	first, last := days[0], days[len(days)-1]
	start := model.MaxDay(ev.Date, first)
	end := model.MinDay(ev.EndDate, last)

	n := float64(len(days))
	startCol := int(start - first)
	endCol := int(end - first)
	return Bar{
		Event:           ev,
		StartColumn:     startCol,
		EndColumn:       endCol,
		Left:            100 * float64(startCol) / n,
		Right:           100 * float64(len(days)-endCol-1) / n,
		ContinuesBefore: ev.Date < first,
		ContinuesAfter:  ev.EndDate > last,
	}
}
