// Package realtime fans order lifecycle events out to in-process listeners,
// streams them to browsers over SSE, and optionally bridges them across
// instances through Kafka.
package realtime

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

// Listener receives every published event. A returned error or panic is
// logged and does not affect other listeners.
type Listener func(ev orders.Envelope) error

type subscription struct {
	id uint64
	fn Listener
}

// Bus is a single-process publish/subscribe hub. It keeps no history: a
// listener only sees events published while it is subscribed.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	log    zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log.With().Str("component", "realtime_bus").Logger()}
}

// Subscribe registers l and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish calls every current listener synchronously, in subscription order.
func (b *Bus) Publish(ev orders.Envelope) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(s.fn, ev); err != nil {
			b.log.Warn().Err(err).
				Uint64("listener", s.id).
				Str("event_type", ev.EventType).
				Str("order_id", ev.CorrelationID).
				Msg("listener failed")
		}
	}
}

func (b *Bus) deliver(fn Listener, ev orders.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(ev)
}

// Len reports the number of active listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
