package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus is the in-process publish/subscribe spine of the sync core. Producers
// (connection manager, store, dispatcher) publish namespaced events; each
// consumer subscribes to a namespace prefix such as "wire." or "chat.".
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	dropped atomic.Uint64
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to every subscriber whose namespace is a prefix of
// event.Kind. Delivery is non-blocking: a full subscriber buffer drops the
// event and bumps the dropped counter.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Subscribe returns a channel that receives events matching the namespace
// prefix, plus an unsubscribe function. bufSize controls the channel buffer.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Dropped returns the number of events discarded because a subscriber buffer
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
