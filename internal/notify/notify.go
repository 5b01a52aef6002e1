package notify

import (
	"sync"
	"time"

	"github.com/nortia-app/chatsync/internal/bus"
)

// Keys for persistent indicators.
const (
	KeyConnectionLost = "connection_lost"
)

// Toast is the payload of a transient notification.
type Toast struct {
	Message string
}

// Indicator is the payload of a persistent (dismissible) notification.
type Indicator struct {
	Key     string
	Message string
	Visible bool
}

// Desktop is the payload of an OS-level notification request.
type Desktop struct {
	ChatKey string
	Sender  string
	Body    string
}

// Center is the user-facing signal surface. The UI layer subscribes to the
// notify.* bus namespace; nothing here blocks or throws into UI code.
type Center struct {
	mu         sync.Mutex
	persistent map[string]bool
	bus        *bus.Bus
}

// NewCenter creates a notification center.
func NewCenter(b *bus.Bus) *Center {
	return &Center{
		persistent: make(map[string]bool),
		bus:        b,
	}
}

// Toast publishes a transient notification.
func (c *Center) Toast(message string) {
	c.bus.Publish(bus.Event{
		Kind:      bus.KindNotifyToast,
		Timestamp: time.Now(),
		Payload:   Toast{Message: message},
	})
}

// Desktop requests an OS-level notification for a message the user is not
// looking at.
func (c *Center) Desktop(d Desktop) {
	c.bus.Publish(bus.Event{
		Kind:      bus.KindNotifyDesktop,
		Timestamp: time.Now(),
		Payload:   d,
	})
}

// ShowPersistent raises a persistent indicator. Idempotent: an indicator
// already showing is not stacked.
func (c *Center) ShowPersistent(key, message string) {
	c.mu.Lock()
	if c.persistent[key] {
		c.mu.Unlock()
		return
	}
	c.persistent[key] = true
	c.mu.Unlock()

	c.bus.Publish(bus.Event{
		Kind:      bus.KindNotifyIndicator,
		Timestamp: time.Now(),
		Payload:   Indicator{Key: key, Message: message, Visible: true},
	})
}

// Dismiss clears a persistent indicator if it is showing.
func (c *Center) Dismiss(key string) {
	c.mu.Lock()
	if !c.persistent[key] {
		c.mu.Unlock()
		return
	}
	delete(c.persistent, key)
	c.mu.Unlock()

	c.bus.Publish(bus.Event{
		Kind:      bus.KindNotifyIndicator,
		Timestamp: time.Now(),
		Payload:   Indicator{Key: key, Visible: false},
	})
}

// DismissAll clears every persistent indicator. Called on teardown.
func (c *Center) DismissAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.persistent))
	for k := range c.persistent {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.Dismiss(k)
	}
}

// Showing reports whether a persistent indicator is currently visible.
func (c *Center) Showing(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistent[key]
}
