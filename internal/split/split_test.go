package split

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calgrid/internal/model"
)

var (
	mon = model.MustParseDay("2025-03-03")
	tue = mon.AddDays(1)
	wed = mon.AddDays(2)
	thu = mon.AddDays(3)
	fri = mon.AddDays(4)
)

func event(from, to model.Day) model.Event {
	return model.Event{
		ID:        "orig",
		Title:     "Conference",
		Date:      from,
		EndDate:   to,
		StartTime: 9 * 60,
		EndTime:   17 * 60,
		Color:     "red",
	}
}

func newSplitter() *Splitter {
	return New(NewCounterProvider("new"))
}

func TestDeleteDayMiddleSplits(t *testing.T) {
	ev := event(mon, wed)
	ev.StartTime, ev.EndTime = 0, model.MinutesPerDay

	got, err := newSplitter().DeleteDay(ev, tue)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, Directive{Kind: KindDelete, EventID: "orig"}, got[0])

	assert.Equal(t, KindCreate, got[1].Kind)
	assert.Equal(t, "orig", got[1].Event.ID)
	assert.Equal(t, mon, got[1].Event.Date)
	assert.Equal(t, mon, got[1].Event.EndDate)

	assert.Equal(t, KindCreate, got[2].Kind)
	assert.Equal(t, "new-1", got[2].Event.ID)
	assert.Equal(t, wed, got[2].Event.Date)
	assert.Equal(t, wed, got[2].Event.EndDate)
	assert.True(t, got[2].Event.AllDay())
}

func TestDeleteDayFirstDayShrinks(t *testing.T) {
	got, err := newSplitter().DeleteDay(event(mon, fri), mon)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, KindUpdate, got[0].Kind)
	assert.Equal(t, "orig", got[0].Event.ID)
	assert.Equal(t, tue, got[0].Event.Date)
	assert.Equal(t, fri, got[0].Event.EndDate)
}

func TestDeleteDayLastDayShrinks(t *testing.T) {
	got, err := newSplitter().DeleteDay(event(mon, fri), fri)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, KindUpdate, got[0].Kind)
	assert.Equal(t, mon, got[0].Event.Date)
	assert.Equal(t, thu, got[0].Event.EndDate)
}

func TestDeleteDayOnlyDayDeletes(t *testing.T) {
	got, err := newSplitter().DeleteDay(event(wed, wed), wed)
	require.NoError(t, err)
	assert.Equal(t, []Directive{{Kind: KindDelete, EventID: "orig"}}, got)
}

func TestDeleteDayOutsideEventRejected(t *testing.T) {
	got, err := newSplitter().DeleteDay(event(tue, thu), fri)
	assert.ErrorIs(t, err, ErrDayOutsideEvent)
	assert.Nil(t, got)
}

func TestDeleteRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end model.Day
		want       []Directive
	}{
		{
			name: "interior day splits",
			start: wed, end: wed,
			want: []Directive{
				{Kind: KindDelete, EventID: "orig"},
				{Kind: KindCreate, Event: ptr(with(event(mon, fri), "orig", mon, tue))},
				{Kind: KindCreate, Event: ptr(with(event(mon, fri), "new-1", thu, fri))},
			},
		},
		{
			name: "whole event",
			start: mon, end: fri,
			want: []Directive{{Kind: KindDelete, EventID: "orig"}},
		},
		{
			name: "covering range is clipped to whole event",
			start: mon.AddDays(-10), end: fri.AddDays(10),
			want: []Directive{{Kind: KindDelete, EventID: "orig"}},
		},
		{
			name: "trim start",
			start: mon.AddDays(-2), end: tue,
			want: []Directive{{Kind: KindUpdate, Event: ptr(with(event(mon, fri), "orig", wed, fri))}},
		},
		{
			name: "trim end",
			start: thu, end: fri.AddDays(3),
			want: []Directive{{Kind: KindUpdate, Event: ptr(with(event(mon, fri), "orig", mon, wed))}},
		},
		{
			name: "range after event",
			start: fri.AddDays(1), end: fri.AddDays(5),
			want: nil,
		},
		{
			name: "inverted range",
			start: thu, end: tue,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newSplitter().DeleteRange(event(mon, fri), tt.start, tt.end)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitPreservesFieldsAndInput(t *testing.T) {
	ev := event(mon, fri)
	before := ev

	got := newSplitter().DeleteRange(ev, tue, thu)
	require.Len(t, got, 3)
	for _, d := range got[1:] {
		assert.Equal(t, ev.Title, d.Event.Title)
		assert.Equal(t, ev.Color, d.Event.Color)
		assert.Equal(t, ev.StartTime, d.Event.StartTime)
		assert.Equal(t, ev.EndTime, d.Event.EndTime)
	}
	assert.Equal(t, before, ev)
}

func TestOvernightPiecesStayValid(t *testing.T) {
	overnight := func(from, to model.Day, start, end int) model.Event {
		ev := event(from, to)
		ev.StartTime, ev.EndTime = start, end
		return ev
	}

	got, err := newSplitter().DeleteDay(overnight(mon, tue, 14*60, 10*60), tue)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, [2]int{14 * 60, model.MinutesPerDay}, [2]int{got[0].Event.StartTime, got[0].Event.EndTime})

	got, err = newSplitter().DeleteDay(overnight(mon, tue, 14*60, 10*60), mon)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, [2]int{0, 10 * 60}, [2]int{got[0].Event.StartTime, got[0].Event.EndTime})

	got, err = newSplitter().DeleteDay(overnight(mon, wed, 22*60, 2*60), tue)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, [2]int{22 * 60, model.MinutesPerDay}, [2]int{got[1].Event.StartTime, got[1].Event.EndTime})
	assert.Equal(t, [2]int{0, 2 * 60}, [2]int{got[2].Event.StartTime, got[2].Event.EndTime})
	for _, d := range got[1:] {
		assert.NoError(t, model.Validate(*d.Event))
	}

	// Pieces that are already valid keep their inherited times.
	got, err = newSplitter().DeleteDay(overnight(mon, tue, 9*60, 17*60), tue)
	require.NoError(t, err)
	assert.Equal(t, [2]int{9 * 60, 17 * 60}, [2]int{got[0].Event.StartTime, got[0].Event.EndTime})
}

func TestSplitCoverage(t *testing.T) {
	s := New(UUIDProvider{})
	ev := event(mon, mon.AddDays(9))

	for from := ev.Date.AddDays(-2); from <= ev.EndDate.AddDays(2); from++ {
		for to := from; to <= ev.EndDate.AddDays(2); to++ {
			got := s.DeleteRange(ev, from, to)
			deleted := map[model.Day]bool{}
			for d := model.MaxDay(from, ev.Date); d <= model.MinDay(to, ev.EndDate); d++ {
				deleted[d] = true
			}
			assertCoverage(t, ev, got, deleted)
		}
	}

	for d := ev.Date; d <= ev.EndDate; d++ {
		got, err := s.DeleteDay(ev, d)
		require.NoError(t, err)
		assertCoverage(t, ev, got, map[model.Day]bool{d: true})
	}
}

// assertCoverage checks that the surviving pieces plus the deleted days tile
// the original range exactly once.
func assertCoverage(t *testing.T, ev model.Event, got []Directive, deleted map[model.Day]bool) {
	t.Helper()

	survivors := []model.Event{ev}
	for _, d := range got {
		switch d.Kind {
		case KindDelete:
			survivors = removeID(survivors, d.EventID)
		case KindUpdate:
			survivors = append(removeID(survivors, d.Event.ID), *d.Event)
		case KindCreate:
			survivors = append(survivors, *d.Event)
		}
	}

	count := map[model.Day]int{}
	for _, s := range survivors {
		require.False(t, s.EndDate < s.Date, "inverted piece %s", s)
		for d := s.Date; d <= s.EndDate; d++ {
			count[d]++
		}
	}
	for d := range deleted {
		count[d]++
	}

	for d := ev.Date; d <= ev.EndDate; d++ {
		assert.Equal(t, 1, count[d], "day %s", d)
		delete(count, d)
	}
	assert.Empty(t, count, "pieces leak outside the original range")
}

func removeID(events []model.Event, id string) []model.Event {
	out := events[:0:0]
	for _, ev := range events {
		if ev.ID != id {
			out = append(out, ev)
		}
	}
	return out
}

func TestPlan(t *testing.T) {
	s := newSplitter()

	single := event(wed, wed)
	got, err := s.Plan(single, Request{Scope: ScopeDay, Day: wed})
	require.NoError(t, err)
	assert.Equal(t, []Directive{{Kind: KindDelete, EventID: "orig"}}, got)

	multi := event(mon, fri)
	got, err = s.Plan(multi, Request{Scope: ScopeAll})
	require.NoError(t, err)
	assert.Equal(t, []Directive{{Kind: KindDelete, EventID: "orig"}}, got)

	got, err = s.Plan(multi, Request{Scope: ScopeDay, Day: mon})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tue, got[0].Event.Date)

	got, err = s.Plan(multi, Request{Scope: ScopeRange, Start: wed, End: wed})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = s.Plan(multi, Request{Scope: ScopeRange, Start: thu, End: tue})
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = s.Plan(multi, Request{Scope: "week"})
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestParseRange(t *testing.T) {
	start, end, err := ParseRange("2025-03-04", "2025-03-06")
	require.NoError(t, err)
	assert.Equal(t, tue, start)
	assert.Equal(t, thu, end)

	for _, tc := range [][2]string{
		{"", "2025-03-06"},
		{"2025-03-04", ""},
		{"2025-13-01", "2025-03-06"},
		{"yesterday", "today"},
		{"2025-03-06", "2025-03-04"},
	} {
		_, _, err := ParseRange(tc[0], tc[1])
		assert.ErrorIs(t, err, ErrInvalidRange, "%v", tc)
	}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"": ScopeAll, "ALL": ScopeAll, "day": ScopeDay, " range ": ScopeRange} {
		got, err := ParseScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseScope("month")
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestRangeDeletable(t *testing.T) {
	ev := event(tue, thu)
	assert.True(t, RangeDeletable(ev, mon, tue))
	assert.True(t, RangeDeletable(ev, wed, wed))
	assert.False(t, RangeDeletable(ev, fri, fri.AddDays(1)))
	assert.False(t, RangeDeletable(ev, thu, tue))
}

func TestCounterProvider(t *testing.T) {
	p := NewCounterProvider("evt")
	assert.Equal(t, "evt-1", p.NewID())
	assert.Equal(t, "evt-2", p.NewID())
	assert.NotEqual(t, UUIDProvider{}.NewID(), UUIDProvider{}.NewID())
}

func with(ev model.Event, id string, from, to model.Day) model.Event {
	ev.ID, ev.Date, ev.EndDate = id, from, to
	return ev
}

func ptr(ev model.Event) *model.Event { return &ev }
