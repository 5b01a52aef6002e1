// Package chatsync is the client-side synchronization core for nortia's
// real-time chat. It keeps an in-memory conversation store consistent with
// the server across a lossy connection: optimistic local writes, debounced
// outbound emission, and ordered replay of everything that happened while
// the connection was down.
package chatsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/coalesce"
	"github.com/nortia-app/chatsync/internal/conn"
	"github.com/nortia-app/chatsync/internal/ident"
	"github.com/nortia-app/chatsync/internal/queue"
	"github.com/nortia-app/chatsync/internal/store"
	"go.uber.org/zap"
)

// Emitter sends one action to the server, blocking until it is acknowledged,
// queued for replay, or failed. delivered is true only on an acked send.
type Emitter interface {
	Emit(kind queue.Kind, payload any) (delivered bool, err error)
}

// HistorySource pages older messages out of the remote system of record.
type HistorySource interface {
	OlderMessages(ctx context.Context, chatID string, before int64, limit int) ([]*chat.Message, bool, error)
}

// Options configures a Client.
type Options struct {
	Store    *store.Store
	Emitter  Emitter
	History  HistorySource
	SelfID   string
	PageSize int
	Debounce time.Duration
	Logger   *zap.Logger
}

// Client is the write-side API the host application calls. Every user action
// lands in the store first, immediately and optimistically, then travels to
// the server through the debounce coalescer or, for structural changes,
// through a single ordered emit worker.
type Client struct {
	store     *store.Store
	emitter   Emitter
	history   HistorySource
	coalescer *coalesce.Coalescer
	selfID    string
	pageSize  int
	logger    *zap.Logger

	structural chan structuralEmit
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

type structuralEmit struct {
	kind    queue.Kind
	payload any
}

// NewClient creates a client, its internal coalescer and its emit worker.
func NewClient(opts Options) *Client {
	c := &Client{
		store:      opts.Store,
		emitter:    opts.Emitter,
		history:    opts.History,
		selfID:     opts.SelfID,
		pageSize:   opts.PageSize,
		logger:     opts.Logger,
		structural: make(chan structuralEmit, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.coalescer = coalesce.New(opts.Debounce, c.emitCoalesced, opts.Logger)
	go c.emitLoop()
	return c
}

// Close stops the coalescer and the emit worker, discarding anything still
// buffered.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.coalescer.Stop()
		close(c.quit)
		<-c.done
	})
}

// Store exposes read access to the conversation state.
func (c *Client) Store() *store.Store {
	return c.store
}

// SendMessage inserts a pending message into the chat and queues it for
// emission. The returned snapshot carries the allocated local identifier;
// the server echoes it back with the confirmation so the pending record is
// merged, never duplicated. Attachments still sitting on disk start out
// uploading; the host drives the upload and reports back through
// SetAttachmentState.
func (c *Client) SendMessage(chatKey, body string, kind chat.MessageKind, attachments ...chat.Attachment) (*chat.Message, error) {
	if kind == "" {
		kind = chat.MessagePlain
	}
	for i := range attachments {
		if attachments[i].Status == "" {
			if attachments[i].URL == "" && attachments[i].LocalPath != "" {
				attachments[i].Status = chat.AttachmentUploading
			} else {
				attachments[i].Status = chat.AttachmentUploaded
			}
		}
	}
	m := &chat.Message{
		ID:          ident.Local(ident.NewLocal()),
		Sender:      c.selfID,
		Body:        body,
		Kind:        kind,
		Timestamp:   time.Now().UnixMilli(),
		Attachments: attachments,
		Status:      chat.DeliveryPending,
	}
	if err := c.store.UpsertMessage(chatKey, m); err != nil {
		return nil, err
	}
	c.coalescer.QueueMessage(chat.MessagePayload{ChatID: chatKey, Message: m.Clone()})
	return m.Clone(), nil
}

// SetAttachmentState records upload progress for one attachment. The host
// application owns the upload itself; the store only tracks its state so the
// conversation view can render it.
func (c *Client) SetAttachmentState(chatKey, messageID string, index int, status chat.AttachmentStatus, progress int, url string) error {
	return c.store.SetAttachmentState(chatKey, messageID, index, status, progress, url)
}

// MarkRead records the current user's read receipts locally and queues them
// for coalesced emission. Only messages that actually changed travel to the
// server.
func (c *Client) MarkRead(chatKey string, messageIDs []string) {
	if c.store.MarkRead(chatKey, c.selfID, messageIDs) > 0 {
		c.coalescer.QueueRead(chatKey, messageIDs)
	}
}

// QueueRead forwards receipts that were already applied to the store, such
// as the dispatcher's auto-read path.
func (c *Client) QueueRead(chatKey string, messageIDs []string) {
	c.coalescer.QueueRead(chatKey, messageIDs)
}

// CreateChat inserts a provisional chat and emits its creation. Structural
// changes skip the coalescer; there is nothing keystroke-scale to batch.
func (c *Client) CreateChat(kind chat.Kind, name string, participants []string) *chat.Chat {
	nc := &chat.Chat{
		ID:           ident.Local(ident.NewLocal()),
		Kind:         kind,
		Status:       chat.StatusPending,
		Name:         name,
		Participants: participants,
		UpdatedAt:    time.Now().UnixMilli(),
	}
	snapshot := c.store.UpsertChat(nc)
	c.queueStructural(queue.KindCreate, chat.ChatPayload{Chat: snapshot})
	return snapshot
}

// EditChat applies a partial edit locally and emits it.
func (c *Client) EditChat(chatKey string, upd chat.Update) error {
	if err := c.store.ApplyUpdate(chatKey, upd); err != nil {
		return err
	}
	c.queueStructural(queue.KindEdit, chat.EditPayload{ChatID: chatKey, Updated: upd})
	return nil
}

// SendAutomated broadcasts one system-generated message to many chats. No
// optimistic insert happens here: the server fans the broadcast out as
// ordinary new-message events, one per target, and those inserts carry the
// canonical identifiers.
func (c *Client) SendAutomated(targetKeys []string, body string, kind chat.MessageKind) {
	m := &chat.Message{
		ID:        ident.Local(ident.NewLocal()),
		Sender:    c.selfID,
		Body:      body,
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
	}
	c.queueStructural(queue.KindAutomated, chat.AutomatedPayload{TargetIDs: targetKeys, Message: m})
}

// FetchOlderMessages pages one window of history into the chat. It is a
// no-op once the server has signaled the history is exhausted, and for
// provisional chats that have no server-side history yet.
func (c *Client) FetchOlderMessages(ctx context.Context, chatKey string) error {
	if c.store.HistoryExhausted(chatKey) {
		return nil
	}
	snap := c.store.Chat(chatKey)
	if snap == nil {
		return store.ErrUnknownChat
	}
	if !snap.ID.Confirmed() {
		return nil
	}

	before := time.Now().UnixMilli() + 1
	if len(snap.Messages) > 0 {
		before = snap.Messages[0].Timestamp
	}
	older, hasMore, err := c.history.OlderMessages(ctx, snap.ID.Server, before, c.pageSize)
	if err != nil {
		return err
	}
	return c.store.PrependOlder(chatKey, older, !hasMore)
}

// emitCoalesced is the coalescer's sink. Message payloads get their delivery
// status tracked against the emit outcome; everything else just logs
// failures.
func (c *Client) emitCoalesced(kind queue.Kind, payload any) {
	delivered, err := c.emitter.Emit(kind, payload)

	p, ok := payload.(chat.MessagePayload)
	if !ok || kind != queue.KindMessage {
		if err != nil && c.logger != nil {
			c.logger.Warn("emit failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		return
	}

	key := p.Message.ID.Key()
	switch {
	case delivered:
		_ = c.store.SetMessageStatus(p.ChatID, key, chat.DeliverySent)
	case err == nil:
		// Parked for replay while disconnected; stays pending until the
		// flush resolves it.
	case errors.Is(err, conn.ErrAckTimeout),
		errors.Is(err, conn.ErrRejected),
		errors.Is(err, conn.ErrConnectionLost):
		_ = c.store.SetMessageStatus(p.ChatID, key, chat.DeliveryFailed)
		if c.logger != nil {
			c.logger.Warn("message delivery failed",
				zap.String("chat", p.ChatID), zap.String("message", key), zap.Error(err))
		}
	default:
		if c.logger != nil {
			c.logger.Warn("message emit failed", zap.String("chat", p.ChatID), zap.Error(err))
		}
	}
}

// queueStructural hands a structural change to the emit worker. Structural
// changes to one conversation must reach the server in the order the user
// made them, so they share a single worker instead of spawning a goroutine
// per call.
func (c *Client) queueStructural(kind queue.Kind, payload any) {
	select {
	case c.structural <- structuralEmit{kind: kind, payload: payload}:
	case <-c.quit:
	}
}

func (c *Client) emitLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case e := <-c.structural:
			if _, err := c.emitter.Emit(e.kind, e.payload); err != nil && c.logger != nil {
				c.logger.Warn("emit failed", zap.String("kind", string(e.kind)), zap.Error(err))
			}
		}
	}
}
