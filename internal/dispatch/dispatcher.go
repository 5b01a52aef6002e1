package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/nortia-app/chatsync/internal/bus"
	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/metrics"
	"github.com/nortia-app/chatsync/internal/notify"
	"github.com/nortia-app/chatsync/internal/store"
	"go.uber.org/zap"
)

// Presence answers what the user is doing right now. It is consulted freshly
// for every inbound event, never cached, because focus can change between two
// events that arrived microseconds apart.
type Presence interface {
	ActiveChat() string
	Foregrounded() bool
	NotificationsEnabled() bool
}

// ChatFetcher recovers the parent chat of an orphaned inbound message.
type ChatFetcher interface {
	ChatByID(ctx context.Context, id string) (*chat.Chat, error)
}

// ReadQueuer accepts read receipts for coalesced emission.
type ReadQueuer interface {
	QueueRead(chatID string, messageIDs []string)
}

// Options configures a Dispatcher.
type Options struct {
	Bus      *bus.Bus
	Store    *store.Store
	Fetcher  ChatFetcher
	Presence Presence
	Reads    ReadQueuer
	Notify   *notify.Center
	SelfID   string
	Stagger  time.Duration
	Logger   *zap.Logger
}

// Dispatcher consumes the wire.* bus namespace and routes each server push
// into the conversation store. Processing is strictly sequential in one
// goroutine, which is what lets the store's ordering and dedup guarantees
// hold without cross-event coordination. Between an insert and its follow-up
// effects the dispatcher waits one stagger window so a burst of related
// events lands in a stable order.
type Dispatcher struct {
	bus      *bus.Bus
	store    *store.Store
	fetcher  ChatFetcher
	presence Presence
	reads    ReadQueuer
	center   *notify.Center
	selfID   string
	stagger  time.Duration
	logger   *zap.Logger

	stop func()
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates a dispatcher. Call Start to begin consuming.
func New(opts Options) *Dispatcher {
	return &Dispatcher{
		bus:      opts.Bus,
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		presence: opts.Presence,
		reads:    opts.Reads,
		center:   opts.Notify,
		selfID:   opts.SelfID,
		stagger:  opts.Stagger,
		logger:   opts.Logger,
	}
}

// Start subscribes to the wire namespace and launches the processing
// goroutine.
func (d *Dispatcher) Start() {
	events, cancel := d.bus.Subscribe("wire.", 256)
	d.stop = cancel
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(events)
}

// Stop unsubscribes and waits for the in-flight event to finish.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		if d.stop == nil {
			return
		}
		d.stop()
		close(d.quit)
		<-d.done
	})
}

func (d *Dispatcher) run(events <-chan bus.Event) {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		case evt := <-events:
			d.handle(evt)
		}
	}
}

func (d *Dispatcher) handle(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case chat.MessagePayload:
		d.handleNewMessage(p)
	case chat.MessageReadPayload:
		d.store.MarkRead(p.ChatID, p.UserID, p.MessageIDs)
	case chat.ChatPayload:
		d.store.UpsertChat(p.Chat)
	default:
		if d.logger != nil {
			d.logger.Warn("unhandled wire payload", zap.String("kind", evt.Kind))
		}
	}
}

func (d *Dispatcher) handleNewMessage(p chat.MessagePayload) {
	if d.store.Chat(p.ChatID) == nil {
		if !d.fetchParent(p.ChatID) {
			return
		}
	}

	time.Sleep(d.stagger)
	if err := d.store.UpsertMessage(p.ChatID, p.Message); err != nil {
		metrics.InboundDroppedTotal.Inc()
		if d.logger != nil {
			d.logger.Warn("dropped message for unknown chat", zap.String("chat", p.ChatID))
		}
		return
	}
	time.Sleep(d.stagger)

	foreign := p.Message.Sender != d.selfID
	d.maybeAutoRead(p, foreign)
	d.maybeNotify(p, foreign)
}

// fetchParent recovers a chat the server referenced before this client saw
// its creation. Failure drops the message; the chat-list refresh on the next
// reconnect repairs the gap.
func (d *Dispatcher) fetchParent(chatID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	parent, err := d.fetcher.ChatByID(ctx, chatID)
	if err != nil {
		metrics.InboundDroppedTotal.Inc()
		if d.logger != nil {
			d.logger.Warn("parent chat fetch failed",
				zap.String("chat", chatID), zap.Error(err))
		}
		return false
	}
	d.store.UpsertChat(parent)
	return true
}

// maybeAutoRead marks a foreign message read immediately when the user is
// looking at its conversation, and queues the receipt for the server.
func (d *Dispatcher) maybeAutoRead(p chat.MessagePayload, foreign bool) {
	if !foreign || d.presence.ActiveChat() != p.ChatID {
		return
	}
	if p.Message.ReadByUser(d.selfID) {
		return
	}
	ids := []string{p.Message.ID.Key()}
	if d.store.MarkRead(p.ChatID, d.selfID, ids) > 0 && d.reads != nil {
		d.reads.QueueRead(p.ChatID, ids)
	}
}

// maybeNotify raises a desktop notification for a foreign message arriving
// while the app is backgrounded. The gate is evaluated per event.
func (d *Dispatcher) maybeNotify(p chat.MessagePayload, foreign bool) {
	if !foreign || d.presence.Foregrounded() || !d.presence.NotificationsEnabled() {
		return
	}
	if d.center == nil {
		return
	}
	d.center.Desktop(notify.Desktop{
		ChatKey: p.ChatID,
		Sender:  p.Message.Sender,
		Body:    p.Message.Body,
	})
}
