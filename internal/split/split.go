// Package split computes what remains of an event after one day or a range of
// days is deleted from it. It never mutates its input; results are returned as
// ordered directives for the caller to apply.
package split

import (
	"errors"
	"fmt"
	"strings"

	"calgrid/internal/model"
)

var (
	ErrDayOutsideEvent = errors.New("split: day is outside the event")
	ErrInvalidRange    = errors.New("split: invalid range")
	ErrUnknownScope    = errors.New("split: unknown delete scope")
)

// Kind tags a Directive.
type Kind string

const (
	KindDelete Kind = "delete"
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
)

// Directive is one store mutation. Delete directives carry EventID; create and
// update carry the full Event. Directives must be applied in order.
type Directive struct {
	Kind    Kind         `json:"kind"`
	EventID string       `json:"eventId,omitempty"`
	Event   *model.Event `json:"event,omitempty"`
}

func deleteOf(ev model.Event) Directive {
	return Directive{Kind: KindDelete, EventID: ev.ID}
}

func createOf(ev model.Event) Directive {
	return Directive{Kind: KindCreate, Event: &ev}
}

func updateOf(ev model.Event) Directive {
	return Directive{Kind: KindUpdate, Event: &ev}
}

// Splitter owns the id source used for the second piece of a split.
type Splitter struct {
	ids IDProvider
}

// New returns a Splitter. A nil provider falls back to UUIDs.
func New(ids IDProvider) *Splitter {
	if ids == nil {
		ids = UUIDProvider{}
	}
	return &Splitter{ids: ids}
}

// DeleteAll removes the whole event.
func (s *Splitter) DeleteAll(ev model.Event) []Directive {
	return []Directive{deleteOf(ev)}
}

// DeleteDay removes a single day from ev. Deleting the first or last day
// shrinks the event in place; deleting an inner day splits it in two, the
// second piece getting a fresh id.
func (s *Splitter) DeleteDay(ev model.Event, day model.Day) ([]Directive, error) {
	if !ev.Covers(day) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrDayOutsideEvent, day, ev.Date, ev.EndDate)
	}
	return s.cut(ev, day, day), nil
}

// DeleteRange removes the days of [start, end] that fall inside ev. An
// inverted range or one that misses the event yields no directives.
func (s *Splitter) DeleteRange(ev model.Event, start, end model.Day) []Directive {
	if end < start {
		return nil
	}
	delStart := model.MaxDay(ev.Date, start)
	delEnd := model.MinDay(ev.EndDate, end)
	if delEnd < delStart {
		return nil
	}
	return s.cut(ev, delStart, delEnd)
}

// cut removes [from, to], already clipped to the event bounds.
func (s *Splitter) cut(ev model.Event, from, to model.Day) []Directive {
	fromStart := from == ev.Date
	toEnd := to == ev.EndDate

	switch {
	case fromStart && toEnd:
		return []Directive{deleteOf(ev)}
	case fromStart:
		rest := ev
		rest.Date = to.AddDays(1)
		return []Directive{updateOf(fitStart(rest))}
	case toEnd:
		rest := ev
		rest.EndDate = from.AddDays(-1)
		return []Directive{updateOf(fitEnd(rest))}
	}

	first := ev
	first.EndDate = from.AddDays(-1)

	second := ev
	second.ID = s.ids.NewID()
	second.Date = to.AddDays(1)

	return []Directive{deleteOf(ev), createOf(fitEnd(first)), createOf(fitStart(second))}
}

// fitEnd repairs a piece whose EndDate moved back onto its start day while
// the inherited EndTime is not after StartTime: the piece then runs to the
// end of that day, which is what its day-projection showed.
func fitEnd(ev model.Event) model.Event {
	if ev.Date == ev.EndDate && ev.EndTime <= ev.StartTime {
		ev.EndTime = model.MinutesPerDay
	}
	return ev
}

// fitStart is fitEnd for a piece whose Date moved forward onto its end day;
// it starts at midnight.
func fitStart(ev model.Event) model.Event {
	if ev.Date == ev.EndDate && ev.EndTime <= ev.StartTime {
		ev.StartTime = 0
	}
	return ev
}

// Scope selects what a delete request removes.
type Scope string

const (
	ScopeAll   Scope = "all"
	ScopeDay   Scope = "day"
	ScopeRange Scope = "range"
)

// ParseScope accepts "", "all", "day" and "range"; empty means all.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeDay:
		return ScopeDay, nil
	case ScopeRange:
		return ScopeRange, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScope, s)
}

// Request describes a delete action on one event. Day is used with ScopeDay,
// Start/End with ScopeRange.
type Request struct {
	Scope Scope
	Day   model.Day
	Start model.Day
	End   model.Day
}

// Plan resolves a delete request into directives. Single-day events are always
// deleted whole, whatever the scope.
func (s *Splitter) Plan(ev model.Event, req Request) ([]Directive, error) {
	if !ev.MultiDay() {
		return s.DeleteAll(ev), nil
	}
	switch req.Scope {
	case ScopeAll, "":
		return s.DeleteAll(ev), nil
	case ScopeDay:
		return s.DeleteDay(ev, req.Day)
	case ScopeRange:
		if req.End < req.Start {
			return nil, fmt.Errorf("%w: %s after %s", ErrInvalidRange, req.Start, req.End)
		}
		return s.DeleteRange(ev, req.Start, req.End), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScope, req.Scope)
}

// ParseRange parses YYYY-MM-DD bounds. Missing, unparseable or inverted input
// is rejected with ErrInvalidRange so the caller can refuse the action.
func ParseRange(start, end string) (model.Day, model.Day, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return 0, 0, fmt.Errorf("%w: both bounds are required", ErrInvalidRange)
	}
	s, err := model.ParseDay(start)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	e, err := model.ParseDay(end)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if e < s {
		return 0, 0, fmt.Errorf("%w: %s after %s", ErrInvalidRange, s, e)
	}
	return s, e, nil
}

// RangeDeletable reports whether deleting [start, end] from ev would change
// anything, i.e. whether a range delete action should be offered.
func RangeDeletable(ev model.Event, start, end model.Day) bool {
	if end < start {
		return false
	}
	return !(end < ev.Date || start > ev.EndDate)
}
