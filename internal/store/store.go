// Package store keeps the authoritative event list in memory and writes every
// change through to a Persister.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"calgrid/internal/bus"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

var (
	ErrNotFound  = errors.New("store: event not found")
	ErrDuplicate = errors.New("store: event id already exists")
	ErrUnknownOp = errors.New("store: unknown change")
)

// Persister is the durable backend behind a Store.
type Persister interface {
	Load(ctx context.Context) ([]model.Event, error)
	// Commit stores puts and removes deletes in one atomic write. On error
	// nothing is changed.
	Commit(ctx context.Context, puts []model.Event, deletes []string) error
	// ReplaceSource drops every event whose Source is source and stores events.
	ReplaceSource(ctx context.Context, source string, events []model.Event) error
	Close() error
}

// Store is safe for concurrent use. Query results are copies.
type Store struct {
	mu     sync.RWMutex
	events map[string]model.Event
	p      Persister

	bus   *bus.Bus
	unsub func()
}

// Open loads all events from p.
func Open(ctx context.Context, p Persister) (*Store, error) {
	events, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	s := &Store{events: make(map[string]model.Event, len(events)), p: p}
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	appLog.Info("event store opened", "events", len(events))
	return s, nil
}

// Attach subscribes the store to create/edit/delete messages on b and makes
// it publish EventsChanged after each applied change.
func (s *Store) Attach(b *bus.Bus) {
	s.bus = b
	s.unsub = b.Subscribe(s.handle)
}

func (s *Store) handle(msg bus.Message) error {
	ctx := context.Background()
	switch m := msg.(type) {
	case bus.EventCreated:
		return s.Create(ctx, m.Event)
	case bus.EventEdited:
		return s.Update(ctx, m.Event)
	case bus.EventDeleted:
		return s.Delete(ctx, m.ID)
	case bus.Batch:
		changes := make([]Change, 0, len(m.Messages))
		for _, inner := range m.Messages {
			c, err := changeOf(inner)
			if err != nil {
				return err
			}
			changes = append(changes, c)
		}
		return s.Apply(ctx, changes)
	}
	return nil
}

func changeOf(msg bus.Message) (Change, error) {
	switch m := msg.(type) {
	case bus.EventCreated:
		return Change{Op: OpCreate, Event: m.Event}, nil
	case bus.EventEdited:
		return Change{Op: OpUpdate, Event: m.Event}, nil
	case bus.EventDeleted:
		return Change{Op: OpDelete, Event: model.Event{ID: m.ID}}, nil
	}
	return Change{}, fmt.Errorf("%w: %T in batch", ErrUnknownOp, msg)
}

// Close detaches from the bus and closes the persister.
func (s *Store) Close() error {
	if s.unsub != nil {
		s.unsub()
	}
	return s.p.Close()
}

// Op names the kind of a Change.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one mutation in an Apply batch. Deletes only use Event.ID.
type Change struct {
	Op    Op
	Event model.Event
}

func (s *Store) Create(ctx context.Context, ev model.Event) error {
	return s.Apply(ctx, []Change{{Op: OpCreate, Event: ev}})
}

func (s *Store) Update(ctx context.Context, ev model.Event) error {
	return s.Apply(ctx, []Change{{Op: OpUpdate, Event: ev}})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.Apply(ctx, []Change{{Op: OpDelete, Event: model.Event{ID: id}}})
}

// Apply runs changes in order against a staged copy of the affected events
// and writes the outcome with a single Persister.Commit. Either every change
// lands, or none does and the store is left as it was. A later change sees
// the effect of earlier ones, so a delete followed by a create of the same
// id is allowed.
func (s *Store) Apply(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := s.commit(ctx, changes); err != nil {
		return err
	}
	for _, c := range changes {
		appLog.Debug("event change applied", "op", c.Op, "id", c.Event.ID, "date", c.Event.Date, "end_date", c.Event.EndDate)
	}
	return s.changed()
}

func (s *Store) commit(ctx context.Context, changes []Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	puts, deletes, err := s.stage(changes)
	if err != nil {
		return err
	}
	if err := s.p.Commit(ctx, puts, deletes); err != nil {
		return fmt.Errorf("store: commit %d changes: %w", len(changes), err)
	}
	for _, ev := range puts {
		s.events[ev.ID] = ev
	}
	for _, id := range deletes {
		delete(s.events, id)
	}
	return nil
}

// stage checks changes against the current events and returns the net
// writes. Caller holds s.mu.
func (s *Store) stage(changes []Change) ([]model.Event, []string, error) {
	// Pending state of every touched id; nil means deleted.
	staged := make(map[string]*model.Event, len(changes))
	order := make([]string, 0, len(changes))
	exists := func(id string) bool {
		if ev, ok := staged[id]; ok {
			return ev != nil
		}
		_, ok := s.events[id]
		return ok
	}

	for i, c := range changes {
		id := c.Event.ID
		if _, seen := staged[id]; !seen {
			order = append(order, id)
		}
		switch c.Op {
		case OpCreate, OpUpdate:
			if err := model.Validate(c.Event); err != nil {
				return nil, nil, changeErr(len(changes), i, c.Op, err)
			}
			if c.Op == OpCreate && exists(id) {
				return nil, nil, changeErr(len(changes), i, c.Op, fmt.Errorf("%w: %s", ErrDuplicate, id))
			}
			if c.Op == OpUpdate && !exists(id) {
				return nil, nil, changeErr(len(changes), i, c.Op, fmt.Errorf("%w: %s", ErrNotFound, id))
			}
			ev := c.Event
			staged[id] = &ev
		case OpDelete:
			if !exists(id) {
				return nil, nil, changeErr(len(changes), i, c.Op, fmt.Errorf("%w: %s", ErrNotFound, id))
			}
			staged[id] = nil
		default:
			return nil, nil, changeErr(len(changes), i, c.Op, ErrUnknownOp)
		}
	}

	var puts []model.Event
	var deletes []string
	for _, id := range order {
		if ev := staged[id]; ev != nil {
			puts = append(puts, *ev)
		} else if _, ok := s.events[id]; ok {
			deletes = append(deletes, id)
		}
	}
	return puts, deletes, nil
}

// changeErr keeps single-change errors unprefixed.
func changeErr(total, i int, op Op, err error) error {
	if total == 1 {
		return err
	}
	return fmt.Errorf("change %d (%s): %w", i, op, err)
}

// ReplaceSource swaps all events imported from source for events.
// The caller's slice is not modified.
func (s *Store) ReplaceSource(ctx context.Context, source string, events []model.Event) error {
	stamped := make([]model.Event, len(events))
	for i, ev := range events {
		ev.Source = source
		stamped[i] = ev
	}
	events = stamped
	s.mu.Lock()
	if err := s.p.ReplaceSource(ctx, source, events); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: replace source %s: %w", source, err)
	}
	removed := 0
	for id, ev := range s.events {
		if ev.Source == source {
			delete(s.events, id)
			removed++
		}
	}
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	s.mu.Unlock()

	appLog.Info("source events replaced", "source", source, "removed", removed, "added", len(events))
	return s.changed()
}

func (s *Store) changed() error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Publish(bus.EventsChanged{})
}

// Get returns the event with the given id.
func (s *Store) Get(id string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ev, nil
}

// All returns every event ordered by start.
func (s *Store) All() []model.Event {
	return s.filter(func(model.Event) bool { return true })
}

// EventsByDate returns the events whose [Date, EndDate] covers day.
func (s *Store) EventsByDate(day model.Day) []model.Event {
	return s.filter(func(ev model.Event) bool { return ev.Covers(day) })
}

// EventsBetween returns the events overlapping the inclusive range [from, to].
func (s *Store) EventsBetween(from, to model.Day) []model.Event {
	return s.filter(func(ev model.Event) bool { return ev.Date <= to && ev.EndDate >= from })
}

func (s *Store) filter(keep func(model.Event) bool) []model.Event {
	s.mu.RLock()
	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
	return out
}

// ErrUnknownDriver is returned by NewPersister for an unsupported driver name.
var ErrUnknownDriver = errors.New("store: unknown driver")

// NewPersister builds the backend named by driver ("json" or "sqlite").
func NewPersister(driver, path string) (Persister, error) {
	switch driver {
	case "", "json":
		return NewJSONFile(path), nil
	case "sqlite":
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
