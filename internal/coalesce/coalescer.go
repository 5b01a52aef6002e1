package coalesce

import (
	"slices"
	"sync"
	"time"

	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/queue"
	"go.uber.org/zap"
)

// EmitFunc hands a coalesced action to the connection manager.
type EmitFunc func(kind queue.Kind, payload any)

// Coalescer debounces keystroke-scale actions into fewer wire events. Two
// independent timers run, one for outgoing messages and one for read
// receipts; actions arriving within a window accumulate and are emitted
// together when it fires. Events from the same conversation are never
// reordered relative to each other.
type Coalescer struct {
	mu     sync.Mutex
	window time.Duration
	emit   EmitFunc
	logger *zap.Logger

	msgs     []chat.MessagePayload
	msgTimer *time.Timer

	readIDs   map[string][]string
	readOrder []string
	readTimer *time.Timer

	stopped bool
}

// New creates a coalescer with the given debounce window.
func New(window time.Duration, emit EmitFunc, logger *zap.Logger) *Coalescer {
	return &Coalescer{
		window:  window,
		emit:    emit,
		logger:  logger,
		readIDs: make(map[string][]string),
	}
}

// QueueMessage buffers an outgoing message. When the window fires, each
// buffered message still becomes its own wire event (content differs per
// message); the batching reduces timer churn, not event count.
func (c *Coalescer) QueueMessage(p chat.MessagePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.msgs = append(c.msgs, p)
	if c.msgTimer == nil {
		c.msgTimer = time.AfterFunc(c.window, c.flushMessages)
	}
}

// QueueRead buffers read receipts. When the window fires, receipts are
// deduplicated by conversation and exactly one receipt batch is emitted per
// distinct conversation touched.
func (c *Coalescer) QueueRead(chatID string, messageIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || chatID == "" || len(messageIDs) == 0 {
		return
	}
	have, ok := c.readIDs[chatID]
	if !ok {
		c.readOrder = append(c.readOrder, chatID)
	}
	for _, id := range messageIDs {
		if !slices.Contains(have, id) {
			have = append(have, id)
		}
	}
	c.readIDs[chatID] = have
	if c.readTimer == nil {
		c.readTimer = time.AfterFunc(c.window, c.flushReads)
	}
}

// Stop cancels both timers without flushing. Buffered actions are discarded;
// teardown happens only on logout, where the whole session state goes away.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.msgTimer != nil {
		c.msgTimer.Stop()
		c.msgTimer = nil
	}
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	c.msgs = nil
	c.readIDs = make(map[string][]string)
	c.readOrder = nil
}

func (c *Coalescer) flushMessages() {
	c.mu.Lock()
	msgs := c.msgs
	c.msgs = nil
	c.msgTimer = nil
	stopped := c.stopped
	c.mu.Unlock()

	if stopped {
		return
	}
	for _, p := range msgs {
		c.emit(queue.KindMessage, p)
	}
}

func (c *Coalescer) flushReads() {
	c.mu.Lock()
	ids := c.readIDs
	order := c.readOrder
	c.readIDs = make(map[string][]string)
	c.readOrder = nil
	c.readTimer = nil
	stopped := c.stopped
	c.mu.Unlock()

	if stopped {
		return
	}
	for _, chatID := range order {
		c.emit(queue.KindRead, chat.ReadPayload{ChatID: chatID, MessageIDs: ids[chatID]})
	}
}
