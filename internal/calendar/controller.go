package calendar

import (
	"errors"
	"fmt"
	"sync"

	"calgrid/internal/bus"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/split"
)

// Controller holds the selected view and date and rebuilds the view whenever
// the selection or the underlying events change.
type Controller struct {
	builder Builder

	// buildMu serializes rebuilds so the stored view always reflects the
	// selection as it was at the latest rebuild.
	buildMu sync.Mutex

	mu      sync.RWMutex
	view    bus.View
	date    model.Day
	current View
	builds  int

	unsub func()
}

func NewController(b Builder, view bus.View, date model.Day) *Controller {
	c := &Controller{builder: b, view: normalizeView(view), date: date}
	c.rebuild()
	return c
}

// Attach subscribes c to b.
func (c *Controller) Attach(b *bus.Bus) {
	c.unsub = b.Subscribe(c.handle)
}

func (c *Controller) Detach() {
	if c.unsub != nil {
		c.unsub()
	}
}

func (c *Controller) handle(msg bus.Message) error {
	switch m := msg.(type) {
	case bus.ViewChanged:
		c.mu.Lock()
		c.view = normalizeView(m.View)
		c.mu.Unlock()
	case bus.DateChanged:
		c.mu.Lock()
		c.date = m.Date
		c.mu.Unlock()
	case bus.EventsChanged:
	default:
		return nil
	}
	c.rebuild()
	return nil
}

func (c *Controller) rebuild() {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	c.mu.RLock()
	view, date := c.view, c.date
	c.mu.RUnlock()

	v := c.builder.Build(view, date)

	c.mu.Lock()
	c.current = v
	c.builds++
	c.mu.Unlock()
	appLog.Debug("calendar view rebuilt", "view", v.Kind, "date", v.Date)
}

// normalizeView maps unknown views to the week view, as Builder.Build does.
func normalizeView(v bus.View) bus.View {
	if parsed, ok := bus.ParseView(string(v)); ok {
		return parsed
	}
	return bus.ViewWeek
}

// Current returns the last built view.
func (c *Controller) Current() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Selection returns the selected view and date.
func (c *Controller) Selection() (bus.View, model.Day) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view, c.date
}

// Builds reports how many times the view has been rebuilt.
func (c *Controller) Builds() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.builds
}

var ErrUnknownDirective = errors.New("calendar: unknown directive kind")

// Dispatch publishes directives on b as a single bus.Batch, in emitted order,
// so the store applies the whole plan or none of it. Created and updated
// events are validated before anything is published.
func Dispatch(b *bus.Bus, directives []split.Directive) error {
	msgs := make([]bus.Message, 0, len(directives))
	for i, d := range directives {
		switch d.Kind {
		case split.KindDelete:
			msgs = append(msgs, bus.EventDeleted{ID: d.EventID})
		case split.KindCreate, split.KindUpdate:
			if d.Event == nil {
				return fmt.Errorf("directive %d (%s): missing event", i, d.Kind)
			}
			if err := model.Validate(*d.Event); err != nil {
				return fmt.Errorf("directive %d (%s): %w", i, d.Kind, err)
			}
			if d.Kind == split.KindCreate {
				msgs = append(msgs, bus.EventCreated{Event: *d.Event})
			} else {
				msgs = append(msgs, bus.EventEdited{Event: *d.Event})
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownDirective, d.Kind)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := b.Publish(bus.Batch{Messages: msgs}); err != nil {
		return fmt.Errorf("dispatch %d directives: %w", len(msgs), err)
	}
	return nil
}
