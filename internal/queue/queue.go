package queue

import (
	"sync"

	"github.com/nortia-app/chatsync/internal/metrics"
	"go.uber.org/zap"
)

// Kind identifies one outbound queue, named after the wire event it replays.
type Kind string

const (
	KindCreate    Kind = "chat:create"
	KindEdit      Kind = "chat:edit"
	KindMessage   Kind = "chat:message"
	KindRead      Kind = "chat:read"
	KindAutomated Kind = "chat:automatedMessage"
)

// FlushOrder is the order queues are drained on reconnect: chat creations
// and edits go out before the messages and receipts that may reference them.
// Each queue is fully drained before the next begins.
var FlushOrder = []Kind{KindCreate, KindEdit, KindMessage, KindRead, KindAutomated}

// Entry is one buffered action, holding the minimal payload needed to
// replay it.
type Entry struct {
	Kind    Kind
	Payload any
}

// ring is a bounded FIFO. When full, the oldest entry is dropped: these are
// best-effort live-update channels, not the system of record.
type ring struct {
	entries []Entry
	max     int
}

func (r *ring) append(e Entry) (dropped bool) {
	if len(r.entries) >= r.max {
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = e
		return true
	}
	r.entries = append(r.entries, e)
	return false
}

func (r *ring) drain() []Entry {
	out := r.entries
	r.entries = nil
	return out
}

// Set holds one bounded queue per event kind, buffering actions generated
// while the connection is down.
type Set struct {
	mu       sync.Mutex
	rings    map[Kind]*ring
	capacity int
	logger   *zap.Logger
}

// NewSet creates queues with the given per-kind capacity.
func NewSet(capacity int, logger *zap.Logger) *Set {
	if capacity <= 0 {
		capacity = 256
	}
	return &Set{
		rings:    make(map[Kind]*ring),
		capacity: capacity,
		logger:   logger,
	}
}

// Enqueue appends an entry to its kind's queue. Overflow silently evicts the
// oldest entry; the loss is logged and counted but never raised to the user.
func (s *Set) Enqueue(kind Kind, payload any) {
	s.mu.Lock()
	r, ok := s.rings[kind]
	if !ok {
		r = &ring{max: s.capacity}
		s.rings[kind] = r
	}
	dropped := r.append(Entry{Kind: kind, Payload: payload})
	s.mu.Unlock()

	if dropped {
		metrics.QueueDroppedTotal.WithLabelValues(string(kind)).Inc()
		if s.logger != nil {
			s.logger.Warn("outbound queue full, dropped oldest entry", zap.String("kind", string(kind)))
		}
	}
}

// Drain removes and returns all entries of one kind in original insertion
// order.
func (s *Set) Drain(kind Kind) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[kind]
	if !ok {
		return nil
	}
	return r.drain()
}

// Len returns the number of buffered entries for a kind.
func (s *Set) Len(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rings[kind]; ok {
		return len(r.entries)
	}
	return 0
}

// Clear discards every buffered entry. Called on teardown.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rings = make(map[Kind]*ring)
}
