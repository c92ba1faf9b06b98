package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calgrid/internal/bus"
	"calgrid/internal/model"
)

var day = model.MustParseDay("2025-04-07")

func ev(id string, from, to model.Day, start, end int) model.Event {
	return model.Event{ID: id, Title: "event " + id, Date: from, EndDate: to, StartTime: start, EndTime: end}
}

func backends(t *testing.T) map[string]func() Persister {
	dir := t.TempDir()
	return map[string]func() Persister{
		"json": func() Persister { return NewJSONFile(filepath.Join(dir, "events.json")) },
		"sqlite": func() Persister {
			p, err := OpenSQLite(filepath.Join(dir, "events.db"))
			require.NoError(t, err)
			return p
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s, err := Open(ctx, open())
			require.NoError(t, err)

			require.NoError(t, s.Create(ctx, ev("a", day, day, 540, 600)))
			require.NoError(t, s.Create(ctx, ev("b", day, day.AddDays(2), 600, 60)))
			require.NoError(t, s.Create(ctx, ev("c", day.AddDays(1), day.AddDays(1), 0, model.MinutesPerDay)))

			edited := ev("a", day, day, 480, 600)
			edited.Color = "blue"
			require.NoError(t, s.Update(ctx, edited))
			require.NoError(t, s.Delete(ctx, "c"))
			require.NoError(t, s.Close())

			reopened, err := Open(ctx, open())
			require.NoError(t, err)
			defer reopened.Close()

			all := reopened.All()
			require.Len(t, all, 2)
			assert.Equal(t, edited, all[0])
			assert.Equal(t, "b", all[1].ID)
			assert.Equal(t, day.AddDays(2), all[1].EndDate)
		})
	}
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, NewJSONFile(filepath.Join(t.TempDir(), "events.json")))
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, ev("a", day, day, 540, 600)))
	assert.ErrorIs(t, s.Create(ctx, ev("a", day, day, 540, 600)), ErrDuplicate)
	assert.ErrorIs(t, s.Update(ctx, ev("zz", day, day, 540, 600)), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "zz"), ErrNotFound)
	assert.ErrorIs(t, s.Create(ctx, ev("b", day, day.AddDays(-1), 540, 600)), model.ErrEndDateBeforeStart)

	_, err = s.Get("zz")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, NewJSONFile(filepath.Join(t.TempDir(), "events.json")))
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, ev("late", day, day, 900, 960)))
	require.NoError(t, s.Create(ctx, ev("early", day, day, 60, 120)))
	require.NoError(t, s.Create(ctx, ev("trip", day.AddDays(-1), day.AddDays(1), 0, model.MinutesPerDay)))
	require.NoError(t, s.Create(ctx, ev("next", day.AddDays(3), day.AddDays(3), 60, 120)))

	ids := func(events []model.Event) []string {
		out := []string{}
		for _, e := range events {
			out = append(out, e.ID)
		}
		return out
	}

	assert.Equal(t, []string{"trip", "early", "late"}, ids(s.EventsByDate(day)))
	assert.Equal(t, []string{"trip"}, ids(s.EventsByDate(day.AddDays(1))))
	assert.Empty(t, s.EventsByDate(day.AddDays(2)))
	assert.Equal(t, []string{"trip", "next"}, ids(s.EventsBetween(day.AddDays(1), day.AddDays(5))))
}

func TestReplaceSource(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s, err := Open(ctx, open())
			require.NoError(t, err)
			defer s.Close()

			local := ev("local", day, day, 60, 120)
			require.NoError(t, s.Create(ctx, local))
			require.NoError(t, s.ReplaceSource(ctx, "work", []model.Event{ev("w1", day, day, 60, 90), ev("w2", day, day, 90, 120)}))
			require.NoError(t, s.ReplaceSource(ctx, "work", []model.Event{ev("w3", day, day, 60, 90)}))

			all := s.All()
			require.Len(t, all, 2)
			byID := map[string]model.Event{}
			for _, e := range all {
				byID[e.ID] = e
			}
			assert.Equal(t, "work", byID["w3"].Source)
			assert.Equal(t, local, byID["local"])
		})
	}
}

func TestReplaceSourceLeavesInputAlone(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, NewJSONFile(filepath.Join(t.TempDir(), "events.json")))
	require.NoError(t, err)

	in := []model.Event{ev("w1", day, day, 60, 90)}
	require.NoError(t, s.ReplaceSource(ctx, "work", in))
	assert.Empty(t, in[0].Source)

	got, err := s.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, "work", got.Source)
}

var errDiskFull = errors.New("disk full")

// failingPersister fails Commit while fail is set.
type failingPersister struct {
	Persister
	fail bool
}

func (p *failingPersister) Commit(ctx context.Context, puts []model.Event, deletes []string) error {
	if p.fail {
		return errDiskFull
	}
	return p.Persister.Commit(ctx, puts, deletes)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			p := &failingPersister{Persister: open()}
			s, err := Open(ctx, p)
			require.NoError(t, err)

			orig := ev("x", day, day.AddDays(4), 0, model.MinutesPerDay)
			require.NoError(t, s.Create(ctx, orig))

			first := orig
			first.EndDate = day.AddDays(1)
			second := orig
			second.ID = "y"
			second.Date = day.AddDays(3)
			split := []Change{
				{Op: OpDelete, Event: model.Event{ID: "x"}},
				{Op: OpCreate, Event: first},
				{Op: OpCreate, Event: second},
			}

			p.fail = true
			assert.ErrorIs(t, s.Apply(ctx, split), errDiskFull)
			assert.Equal(t, []model.Event{orig}, s.All(), "failed write keeps the original")

			p.fail = false
			require.NoError(t, s.Apply(ctx, split))
			assert.Equal(t, []model.Event{first, second}, s.All())

			// A rejected change anywhere in the batch discards the earlier ones.
			err = s.Apply(ctx, []Change{
				{Op: OpDelete, Event: model.Event{ID: "x"}},
				{Op: OpCreate, Event: ev("y", day, day, 60, 120)},
			})
			assert.ErrorIs(t, err, ErrDuplicate)
			assert.Len(t, s.All(), 2)

			assert.ErrorIs(t, s.Apply(ctx, []Change{{Op: "merge", Event: first}}), ErrUnknownOp)
			require.NoError(t, s.Close())

			reopened, err := Open(ctx, open())
			require.NoError(t, err)
			defer reopened.Close()
			assert.Equal(t, []model.Event{first, second}, reopened.All())
		})
	}
}

func TestStoreOnBus(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, NewJSONFile(filepath.Join(t.TempDir(), "events.json")))
	require.NoError(t, err)

	b := bus.New()
	s.Attach(b)
	changes := 0
	b.Subscribe(func(m bus.Message) error {
		if _, ok := m.(bus.EventsChanged); ok {
			changes++
		}
		return nil
	})

	require.NoError(t, b.Publish(bus.EventCreated{Event: ev("a", day, day, 60, 120)}))
	require.NoError(t, b.Publish(bus.EventEdited{Event: ev("a", day, day, 60, 180)}))
	assert.ErrorIs(t, b.Publish(bus.EventDeleted{ID: "missing"}), ErrNotFound)
	require.NoError(t, b.Publish(bus.EventDeleted{ID: "a"}))

	assert.Equal(t, 3, changes)
	assert.Empty(t, s.All())

	require.NoError(t, b.Publish(bus.Batch{Messages: []bus.Message{
		bus.EventCreated{Event: ev("c", day, day, 60, 120)},
		bus.EventEdited{Event: ev("c", day, day, 60, 240)},
	}}))
	assert.Equal(t, 4, changes, "a batch is one change")
	got, err := s.Get("c")
	require.NoError(t, err)
	assert.Equal(t, 240, got.EndTime)

	assert.ErrorIs(t, b.Publish(bus.Batch{Messages: []bus.Message{bus.ViewChanged{View: bus.ViewDay}}}), ErrUnknownOp)
	require.NoError(t, b.Publish(bus.EventDeleted{ID: "c"}))

	require.NoError(t, s.Close())
	require.NoError(t, b.Publish(bus.EventCreated{Event: ev("b", day, day, 60, 120)}))
	assert.Empty(t, s.All(), "closed store no longer listens")
}

func TestNewPersister(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersister("json", filepath.Join(dir, "e.json"))
	require.NoError(t, err)
	assert.IsType(t, &JSONFile{}, p)

	p, err = NewPersister("sqlite", filepath.Join(dir, "e.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, p)
	require.NoError(t, p.Close())

	_, err = NewPersister("redis", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
