package split

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDProvider hands out identifiers for events created by a split.
type IDProvider interface {
	NewID() string
}

// UUIDProvider generates random (v4) UUIDs.
type UUIDProvider struct{}

func (UUIDProvider) NewID() string {
	return uuid.NewString()
}

// CounterProvider generates prefix-1, prefix-2, ... and is safe for
// concurrent use.
type CounterProvider struct {
	Prefix string
	n      atomic.Uint64
}

func NewCounterProvider(prefix string) *CounterProvider {
	return &CounterProvider{Prefix: prefix}
}

func (c *CounterProvider) NewID() string {
	return c.Prefix + "-" + strconv.FormatUint(c.n.Add(1), 10)
}
