package calendar

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calgrid/internal/bus"
	"calgrid/internal/model"
	"calgrid/internal/split"
	"calgrid/internal/store"
)

type staticSource []model.Event

func (s staticSource) EventsByDate(day model.Day) []model.Event {
	var out []model.Event
	for _, ev := range s {
		if ev.Covers(day) {
			out = append(out, ev)
		}
	}
	return out
}

func d(s string) model.Day { return model.MustParseDay(s) }

func fixedNow(s string) func() time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func TestWeekDays(t *testing.T) {
	// 2025-05-15 is a Thursday.
	days := WeekDays(d("2025-05-15"), time.Monday)
	require.Len(t, days, 7)
	assert.Equal(t, d("2025-05-12"), days[0])
	assert.Equal(t, d("2025-05-18"), days[6])

	days = WeekDays(d("2025-05-15"), time.Sunday)
	assert.Equal(t, d("2025-05-11"), days[0])

	assert.Equal(t, d("2025-05-12"), StartOfWeek(d("2025-05-12"), time.Monday))
}

func TestMonthDays(t *testing.T) {
	tests := []struct {
		date      string
		weekStart time.Weekday
		weeks     int
		first     string
		last      string
	}{
		// February 2027 starts on a Monday and has 28 days.
		{"2027-02-10", time.Monday, 4, "2027-02-01", "2027-02-28"},
		{"2025-05-01", time.Monday, 5, "2025-04-28", "2025-06-01"},
		// March 2025 starts on a Saturday and has 31 days.
		{"2025-03-31", time.Monday, 6, "2025-02-24", "2025-04-06"},
		{"2025-12-24", time.Sunday, 5, "2025-11-30", "2026-01-03"},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			days := MonthDays(d(tt.date), tt.weekStart)
			assert.Len(t, days, tt.weeks*7)
			assert.Equal(t, d(tt.first), days[0])
			assert.Equal(t, d(tt.last), days[len(days)-1])
			assert.Equal(t, tt.weekStart, days[0].Weekday())
		})
	}
}

func TestParseWeekday(t *testing.T) {
	wd, ok := ParseWeekday("monday")
	assert.True(t, ok)
	assert.Equal(t, time.Monday, wd)

	wd, ok = ParseWeekday("Sun")
	assert.True(t, ok)
	assert.Equal(t, time.Sunday, wd)

	_, ok = ParseWeekday("funday")
	assert.False(t, ok)
}

func TestMonthViewOrdersAllDayFirst(t *testing.T) {
	day := d("2025-05-14")
	src := staticSource{
		{ID: "late", Title: "late", Date: day, EndDate: day, StartTime: 900, EndTime: 960},
		{ID: "early", Title: "early", Date: day, EndDate: day, StartTime: 60, EndTime: 120},
		{ID: "trip", Title: "trip", Date: day.AddDays(-1), EndDate: day.AddDays(1), StartTime: 600, EndTime: 660},
	}
	b := Builder{Source: src, WeekStart: time.Monday, Now: fixedNow("2025-05-14 10:00")}
	m := b.Month(day)

	assert.Equal(t, 5, m.Weeks)
	var cell MonthCell
	for _, c := range m.Cells {
		if c.Day == day {
			cell = c
		}
	}
	require.Equal(t, day, cell.Day)
	assert.True(t, cell.Today)
	assert.True(t, cell.Selected)
	assert.True(t, cell.InMonth)

	ids := []string{}
	for _, ev := range cell.Events {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"trip", "early", "late"}, ids)
	assert.True(t, cell.Events[0].AllDay(), "middle day of a multi-day event shows as all-day")

	assert.False(t, m.Cells[0].InMonth)
}

func TestWeekViewSpanningBars(t *testing.T) {
	// Week of Mon 2025-05-12 .. Sun 2025-05-18.
	src := staticSource{
		{ID: "holiday", Title: "holiday", Date: d("2025-05-08"), EndDate: d("2025-05-13"), StartTime: 0, EndTime: 1440},
		{ID: "offsite", Title: "offsite", Date: d("2025-05-15"), EndDate: d("2025-05-16"), StartTime: 0, EndTime: 1440},
		{ID: "birthday", Title: "birthday", Date: d("2025-05-14"), EndDate: d("2025-05-14"), StartTime: 0, EndTime: 1440},
		{ID: "flight", Title: "flight", Date: d("2025-05-14"), EndDate: d("2025-05-16"), StartTime: 1200, EndTime: 300},
		{ID: "a", Title: "a", Date: d("2025-05-14"), EndDate: d("2025-05-14"), StartTime: 540, EndTime: 600},
		{ID: "b", Title: "b", Date: d("2025-05-14"), EndDate: d("2025-05-14"), StartTime: 570, EndTime: 630},
	}
	b := Builder{Source: src, WeekStart: time.Monday, Now: fixedNow("2025-05-14 12:00")}
	w := b.Week(d("2025-05-14"))

	require.Len(t, w.Columns, 7)
	require.Len(t, w.Bars, 2)

	holiday := w.Bars[0]
	assert.Equal(t, "holiday", holiday.Event.ID)
	assert.Equal(t, 0, holiday.StartColumn)
	assert.Equal(t, 1, holiday.EndColumn)
	assert.InDelta(t, 0, holiday.Left, 1e-9)
	assert.InDelta(t, 500.0/7, holiday.Right, 1e-9)
	assert.True(t, holiday.ContinuesBefore)
	assert.False(t, holiday.ContinuesAfter)

	offsite := w.Bars[1]
	assert.Equal(t, 3, offsite.StartColumn)
	assert.Equal(t, 4, offsite.EndColumn)
	assert.InDelta(t, 300.0/7, offsite.Left, 1e-9)
	assert.InDelta(t, 200.0/7, offsite.Right, 1e-9)

	wed := w.Columns[2]
	assert.True(t, wed.Today)
	assert.True(t, wed.Selected)
	require.Len(t, wed.AllDay, 1)
	assert.Equal(t, "birthday", wed.AllDay[0].ID)
	assert.Equal(t, 2, wed.TotalColumns)
	require.Len(t, wed.Timed, 3)

	thu := w.Columns[3]
	require.Len(t, thu.AllDay, 1, "timed multi-day event is all-day on its middle day; offsite is a bar")
	assert.Equal(t, "flight", thu.AllDay[0].ID)
	assert.Empty(t, w.Columns[0].AllDay, "holiday is drawn as a bar only")

	fri := w.Columns[4]
	require.Len(t, fri.Timed, 1)
	assert.Equal(t, 0, fri.Timed[0].Event.StartTime)
	assert.Equal(t, 300, fri.Timed[0].Event.EndTime)

	require.NotNil(t, w.Now)
	assert.Equal(t, 2, w.Now.Column)
	assert.InDelta(t, 50, w.Now.Top, 1e-9)
}

func TestDayViewKeepsMultiDayInAllDayList(t *testing.T) {
	src := staticSource{
		{ID: "holiday", Title: "holiday", Date: d("2025-05-08"), EndDate: d("2025-05-13"), StartTime: 0, EndTime: 1440},
	}
	b := Builder{Source: src, WeekStart: time.Monday, Now: fixedNow("2025-06-01 08:00")}
	v := b.Build(bus.ViewDay, d("2025-05-12"))

	require.NotNil(t, v.Week)
	assert.Nil(t, v.Month)
	require.Len(t, v.Week.Columns, 1)
	assert.Empty(t, v.Week.Bars)
	require.Len(t, v.Week.Columns[0].AllDay, 1)
	assert.Nil(t, v.Week.Now, "today is not visible")
}

func TestControllerFollowsBus(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, store.NewJSONFile(filepath.Join(t.TempDir(), "events.json")))
	require.NoError(t, err)

	b := bus.New()
	s.Attach(b)
	c := NewController(Builder{Source: s, WeekStart: time.Monday, Now: fixedNow("2025-05-14 09:00")}, bus.ViewMonth, d("2025-05-14"))
	c.Attach(b)
	defer c.Detach()

	assert.Equal(t, 1, c.Builds())
	require.NotNil(t, c.Current().Month)

	require.NoError(t, b.Publish(bus.ViewChanged{View: bus.ViewWeek}))
	require.NoError(t, b.Publish(bus.DateChanged{Date: d("2025-05-20")}))
	view, date := c.Selection()
	assert.Equal(t, bus.ViewWeek, view)
	assert.Equal(t, d("2025-05-20"), date)
	require.NotNil(t, c.Current().Week)
	assert.Equal(t, d("2025-05-19"), c.Current().Week.Columns[0].Day)

	ev := model.Event{ID: "x", Title: "x", Date: d("2025-05-19"), EndDate: d("2025-05-21"), StartTime: 0, EndTime: 1440}
	require.NoError(t, b.Publish(bus.EventCreated{Event: ev}))
	assert.Equal(t, 4, c.Builds())
	require.Len(t, c.Current().Week.Bars, 1)

	directives, err := split.New(split.NewCounterProvider("p")).DeleteDay(ev, d("2025-05-20"))
	require.NoError(t, err)
	require.NoError(t, Dispatch(b, directives))

	bars := c.Current().Week.Bars
	assert.Empty(t, bars, "single-day pieces are no longer spanning")
	assert.Len(t, s.All(), 2)
	assert.Len(t, c.Current().Week.Columns[0].AllDay, 1)
	assert.Empty(t, c.Current().Week.Columns[1].AllDay)
}

func TestDispatchAppliesNothingOnError(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, store.NewJSONFile(filepath.Join(t.TempDir(), "events.json")))
	require.NoError(t, err)
	b := bus.New()
	s.Attach(b)

	ev := model.Event{ID: "n", Title: "n", Date: d("2025-05-19"), EndDate: d("2025-05-19"), StartTime: 60, EndTime: 120}
	err = Dispatch(b, []split.Directive{
		{Kind: split.KindDelete, EventID: "missing"},
		{Kind: split.KindCreate, Event: &ev},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, s.All())

	err = Dispatch(b, []split.Directive{{Kind: "merge"}})
	assert.ErrorIs(t, err, ErrUnknownDirective)

	require.NoError(t, s.Create(ctx, ev))
	bad := ev
	bad.StartTime, bad.EndTime = 600, 60
	err = Dispatch(b, []split.Directive{
		{Kind: split.KindDelete, EventID: "n"},
		{Kind: split.KindCreate, Event: &bad},
	})
	assert.ErrorIs(t, err, model.ErrEndTimeNotAfterStart)
	assert.Len(t, s.All(), 1, "nothing is applied when a directive is invalid")
}

var errDiskFull = errors.New("disk full")

type failingPersister struct {
	store.Persister
	fail bool
}

func (p *failingPersister) Commit(ctx context.Context, puts []model.Event, deletes []string) error {
	if p.fail {
		return errDiskFull
	}
	return p.Persister.Commit(ctx, puts, deletes)
}

func TestDispatchKeepsEventWhenWriteFails(t *testing.T) {
	ctx := context.Background()
	p := &failingPersister{Persister: store.NewJSONFile(filepath.Join(t.TempDir(), "events.json"))}
	s, err := store.Open(ctx, p)
	require.NoError(t, err)
	b := bus.New()
	s.Attach(b)

	ev := model.Event{ID: "x", Title: "Trip", Date: d("2025-05-19"), EndDate: d("2025-05-23"), StartTime: 0, EndTime: 1440}
	require.NoError(t, s.Create(ctx, ev))

	directives, err := split.New(split.NewCounterProvider("p")).DeleteDay(ev, d("2025-05-21"))
	require.NoError(t, err)
	require.Len(t, directives, 3)

	p.fail = true
	assert.ErrorIs(t, Dispatch(b, directives), errDiskFull)
	assert.Equal(t, []model.Event{ev}, s.All())

	p.fail = false
	require.NoError(t, Dispatch(b, directives))
	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, d("2025-05-20"), all[0].EndDate)
	assert.Equal(t, d("2025-05-22"), all[1].Date)
}

func TestControllerConcurrentRebuilds(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, store.NewJSONFile(filepath.Join(t.TempDir(), "events.json")))
	require.NoError(t, err)
	b := bus.New()
	s.Attach(b)
	c := NewController(Builder{Source: s, WeekStart: time.Monday, Now: fixedNow("2025-05-14 09:00")}, bus.ViewWeek, d("2025-05-14"))
	c.Attach(b)
	defer c.Detach()

	start := d("2025-01-06")
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			views := []bus.View{bus.ViewMonth, bus.ViewWeek, bus.ViewDay}
			assert.NoError(t, b.Publish(bus.ViewChanged{View: views[i%3]}))
			assert.NoError(t, b.Publish(bus.DateChanged{Date: start.AddDays(i)}))
		}(i)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Publish(bus.EventsChanged{}))
		}()
	}
	wg.Wait()

	view, date := c.Selection()
	cur := c.Current()
	assert.Equal(t, view, cur.Kind)
	assert.Equal(t, date, cur.Date)

	require.NoError(t, b.Publish(bus.ViewChanged{View: "year"}))
	view, _ = c.Selection()
	assert.Equal(t, bus.ViewWeek, view)
	assert.Equal(t, bus.ViewWeek, c.Current().Kind)
}
