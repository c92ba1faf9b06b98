package layout

import "calgrid/internal/model"

// Rect is the placement of an event inside a day column, as percentages of
// the column's height (Top/Bottom) and width (Left/Right) measured inward
// from each edge.
type Rect struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

// Box is a placement together with its rectangle.
type Box struct {
	Placement
	Rect Rect `json:"rect"`
}

// Rect maps p onto the column grid of r.
func (r Result) Rect(p Placement) Rect {
	if r.TotalColumns == 0 {
		return Rect{}
	}
	width := 100 / float64(r.TotalColumns)
	return Rect{
		Top:    100 * float64(p.Event.StartTime) / model.MinutesPerDay,
		Bottom: 100 * (1 - float64(p.Event.EndTime)/model.MinutesPerDay),
		Left:   width * float64(p.ColumnIndex),
		Right:  width * float64(r.TotalColumns-p.ColumnIndex-p.ColumnSpan),
	}
}

// Boxes returns every placement with its rectangle, in placement order.
func (r Result) Boxes() []Box {
	out := make([]Box, 0, len(r.Placements))
	for _, p := range r.Placements {
		out = append(out, Box{Placement: p, Rect: r.Rect(p)})
	}
	return out
}

// DayLayout is the packed view of one calendar day.
type DayLayout struct {
	Day    model.Day     `json:"day"`
	AllDay []model.Event `json:"allDay"`
	Timed  Result        `json:"timed"`
}

// Day projects events onto day, keeps all-day projections aside and packs the
// rest. Events not covering day are ignored. The input is not modified.
func Day(events []model.Event, day model.Day) DayLayout {
	out := DayLayout{Day: day, AllDay: []model.Event{}}
	timed := make([]model.Event, 0, len(events))
	for _, ev := range events {
		p, ok := ev.ProjectOn(day)
		if !ok {
			continue
		}
		if p.AllDay() {
			out.AllDay = append(out.AllDay, p)
			continue
		}
		timed = append(timed, p)
	}
	out.Timed = Pack(SortByTime(timed))
	return out
}
