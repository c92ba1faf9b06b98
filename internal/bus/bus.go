// Package bus is the typed message channel between calendar components.
package bus

import (
	"errors"
	"sync"

	"calgrid/internal/model"
)

// View is a calendar presentation mode.
type View string

const (
	ViewMonth View = "month"
	ViewWeek  View = "week"
	ViewDay   View = "day"
)

// ParseView returns the view named s, or ok=false.
func ParseView(s string) (View, bool) {
	switch View(s) {
	case ViewMonth, ViewWeek, ViewDay:
		return View(s), true
	}
	return "", false
}

// Message is implemented by every message type below.
type Message interface {
	message()
}

// EventCreated asks the store to add an event.
type EventCreated struct{ Event model.Event }

// EventEdited asks the store to replace the event with the same id.
type EventEdited struct{ Event model.Event }

// EventDeleted asks the store to remove the event with the given id.
type EventDeleted struct{ ID string }

// Batch groups EventCreated, EventEdited and EventDeleted messages that must
// be applied together or not at all.
type Batch struct{ Messages []Message }

// EventsChanged is published by the store after every applied mutation.
type EventsChanged struct{}

// ViewChanged switches the calendar view.
type ViewChanged struct{ View View }

// DateChanged moves the calendar selection to another day.
type DateChanged struct{ Date model.Day }

func (EventCreated) message()  {}
func (EventEdited) message()   {}
func (EventDeleted) message()  {}
func (Batch) message()         {}
func (EventsChanged) message() {}
func (ViewChanged) message()   {}
func (DateChanged) message()   {}

// Handler receives published messages. A non-nil error is reported back to
// the publisher; it does not stop delivery to other subscribers.
type Handler func(Message) error

// Bus dispatches messages synchronously to subscribers in subscription order.
// Handlers may publish further messages; those are delivered depth-first
// before Publish returns.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn Handler
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers msg to every current subscriber and returns their joined
// errors.
func (b *Bus) Publish(msg Message) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.fn(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
