package store

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nortia-app/chatsync/internal/bus"
	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/ident"
	"github.com/nortia-app/chatsync/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrUnknownChat is returned when a mutation references a chat the store
	// does not hold.
	ErrUnknownChat = errors.New("unknown chat")
	// ErrUnknownMessage is returned when a mutation references a message the
	// chat does not hold.
	ErrUnknownMessage = errors.New("unknown message")
)

// Store is the single source of truth for conversations and their messages.
// Every mutation, local optimistic or server originated, goes through it.
// Mutations are serialized; after each one every chat's message list is
// sorted ascending by timestamp and holds at most one message per local
// identifier.
type Store struct {
	mu     sync.Mutex
	chats  []*chat.Chat
	index  map[string]*chat.Chat
	bus    *bus.Bus
	logger *zap.Logger
}

// MessageEvent is the payload of chat.message_upserted and chat.read events.
type MessageEvent struct {
	ChatKey      string
	ChatServerID string
	Message      *chat.Message
}

// New creates an empty conversation store.
func New(b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		index:  make(map[string]*chat.Chat),
		bus:    b,
		logger: logger,
	}
}

// UpsertChat inserts a chat or merges server-confirmed fields into the
// existing record. Lookup is by server identifier first, then local
// identifier; on first confirmation the provisional record is updated in
// place, never duplicated, and the local identifier stays as an alias.
func (s *Store) UpsertChat(c *chat.Chat) *chat.Chat {
	s.mu.Lock()
	existing := s.lookup(c.ID)
	if existing != nil && c.ID.Local != "" && c.ID.Server != "" {
		// A confirmation carrying both halves can reveal that the
		// conversation is held twice: once under the local identifier from
		// the optimistic create, once under the server identifier from a
		// fetch that raced the creation echo. Fold the provisional record in
		// before merging.
		if twin, ok := s.index[c.ID.Local]; ok && twin != existing {
			s.absorb(existing, twin)
		}
	}
	if existing == nil {
		if c.Status == "" {
			if c.ID.Confirmed() {
				c.Status = chat.StatusConfirmed
			} else {
				c.Status = chat.StatusPending
			}
		}
		s.chats = append(s.chats, c)
		s.reindex(c)
		s.sortMessages(c)
		existing = c
	} else {
		existing.MergeFrom(c)
		if existing.ID.Confirmed() {
			existing.Status = chat.StatusConfirmed
		}
		s.reindex(existing)
		// A confirmation can carry an initial message page.
		for _, m := range c.Messages {
			s.mergeMessage(existing, m)
		}
		s.sortMessages(existing)
	}
	snapshot := snapshotChat(existing)
	s.mu.Unlock()

	s.publish(bus.KindChatUpdated, snapshot)
	return snapshot
}

// UpsertMessage inserts a message into a chat or merges it into the record
// with a matching identifier (local identifier first, server identifier as
// fallback). Server-provided fields win. The chat's message list is re-sorted
// afterwards; the sort is stable so same-timestamp messages keep insertion
// order.
func (s *Store) UpsertMessage(chatKey string, m *chat.Message) error {
	s.mu.Lock()
	c, ok := s.index[chatKey]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	s.mergeMessage(c, m)
	s.sortMessages(c)
	if m.Timestamp > c.UpdatedAt {
		c.UpdatedAt = m.Timestamp
	}
	evt := MessageEvent{ChatKey: c.ID.Key(), ChatServerID: c.ID.Server, Message: s.find(c, m.ID).Clone()}
	s.mu.Unlock()

	metrics.MessagesUpsertedTotal.Inc()
	s.publish(bus.KindChatMessageUpserted, evt)
	return nil
}

// MarkRead adds readerID to the read-by set of each referenced message.
// Idempotent and commutative: already-present readers are no-ops and no
// reader is ever removed. Returns how many messages actually changed.
func (s *Store) MarkRead(chatKey, readerID string, messageIDs []string) int {
	s.mu.Lock()
	c, ok := s.index[chatKey]
	if !ok {
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Warn("read receipt for unknown chat", zap.String("chat", chatKey))
		}
		return 0
	}
	changed := 0
	var events []MessageEvent
	for _, m := range c.Messages {
		if !referenced(m, messageIDs) {
			continue
		}
		if m.AddReader(readerID) {
			changed++
			events = append(events, MessageEvent{ChatKey: c.ID.Key(), ChatServerID: c.ID.Server, Message: m.Clone()})
		}
	}
	s.mu.Unlock()

	for _, evt := range events {
		s.publish(bus.KindChatRead, evt)
	}
	return changed
}

// ApplyUpdate applies a partial edit to a chat and publishes the new
// snapshot.
func (s *Store) ApplyUpdate(chatKey string, upd chat.Update) error {
	s.mu.Lock()
	c, ok := s.index[chatKey]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	upd.ApplyTo(c)
	snapshot := snapshotChat(c)
	s.mu.Unlock()

	s.publish(bus.KindChatUpdated, snapshot)
	return nil
}

// SetMessageStatus updates the delivery status of one message, identified by
// either half of its ID. Used to mark ack timeouts as failed-pending-retry.
func (s *Store) SetMessageStatus(chatKey, messageID string, status chat.DeliveryStatus) error {
	s.mu.Lock()
	c, ok := s.index[chatKey]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	for _, m := range c.Messages {
		if m.ID.Local == messageID || m.ID.Server == messageID {
			m.Status = status
			evt := MessageEvent{ChatKey: c.ID.Key(), ChatServerID: c.ID.Server, Message: m.Clone()}
			s.mu.Unlock()
			s.publish(bus.KindChatMessageUpserted, evt)
			return nil
		}
	}
	s.mu.Unlock()
	return nil
}

// SetAttachmentState records upload progress for one attachment of a message.
// A non-empty url marks the upload finished on the server side; the local
// staging path is dropped with it.
func (s *Store) SetAttachmentState(chatKey, messageID string, index int, status chat.AttachmentStatus, progress int, url string) error {
	s.mu.Lock()
	c, ok := s.index[chatKey]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	var m *chat.Message
	for _, cand := range c.Messages {
		if cand.ID.Local == messageID || cand.ID.Server == messageID {
			m = cand
			break
		}
	}
	if m == nil {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	if index < 0 || index >= len(m.Attachments) {
		s.mu.Unlock()
		return fmt.Errorf("attachment %d out of range for message %s", index, messageID)
	}
	a := &m.Attachments[index]
	a.Status = status
	a.Progress = progress
	if url != "" {
		a.URL = url
		a.LocalPath = ""
	}
	evt := MessageEvent{ChatKey: c.ID.Key(), ChatServerID: c.ID.Server, Message: m.Clone()}
	s.mu.Unlock()

	s.publish(bus.KindChatMessageUpserted, evt)
	return nil
}

// PrependOlder merges an older page of messages into a chat: the window is
// deduplicated by server identifier against what is already held, then the
// whole list is re-sorted. exhausted records that the remote end has no more
// messages, which stops future fetch attempts for this chat.
func (s *Store) PrependOlder(chatKey string, older []*chat.Message, exhausted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[chatKey]
	if !ok {
		return ErrUnknownChat
	}

	have := make(map[string]bool, len(c.Messages))
	for _, m := range c.Messages {
		if m.ID.Server != "" {
			have[m.ID.Server] = true
		}
	}

	fresh := make([]*chat.Message, 0, len(older))
	for _, m := range older {
		if m.ID.Server != "" && have[m.ID.Server] {
			continue
		}
		fresh = append(fresh, m)
	}
	c.Messages = append(fresh, c.Messages...)
	s.sortMessages(c)
	if exhausted {
		c.HistoryExhausted = true
	}
	return nil
}

// HistoryExhausted reports whether the server already signaled there are no
// older messages for the chat.
func (s *Store) HistoryExhausted(chatKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.index[chatKey]
	return ok && c.HistoryExhausted
}

// Chat returns a snapshot of the chat with the given key (server or local
// identifier), or nil when unknown.
func (s *Store) Chat(key string) *chat.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.index[key]
	if !ok {
		return nil
	}
	return snapshotChat(c)
}

// Chats returns snapshots of all chats, most recently updated first.
func (s *Store) Chats() []*chat.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*chat.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, snapshotChat(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out
}

// Reset discards all conversation state. Called on logout; the next login
// starts from a fresh store.
func (s *Store) Reset() {
	s.mu.Lock()
	s.chats = nil
	s.index = make(map[string]*chat.Chat)
	s.mu.Unlock()
}

// mergeMessage applies one message to a chat under the store lock. The
// invariant "exactly one message per local identifier" holds because Matches
// keys on the local identifier whenever both sides carry one.
func (s *Store) mergeMessage(c *chat.Chat, m *chat.Message) {
	if existing := s.find(c, m.ID); existing != nil {
		existing.MergeFrom(m)
		// The server echo is the delivery confirmation for an optimistic
		// send that was replayed from the queue rather than acked live.
		if existing.ID.Confirmed() && existing.Status == chat.DeliveryPending {
			existing.Status = chat.DeliverySent
		}
		return
	}
	if m.Status == "" {
		m.Status = chat.DeliveryPending
	}
	c.Messages = append(c.Messages, m)
}

// absorb folds a provisional twin into the record that turned out to be the
// same conversation, keeping its local alias and optimistic messages.
func (s *Store) absorb(dst, src *chat.Chat) {
	dst.ID = dst.ID.Merge(src.ID)
	for _, m := range src.Messages {
		s.mergeMessage(dst, m)
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
	s.chats = slices.DeleteFunc(s.chats, func(c *chat.Chat) bool { return c == src })
	s.reindex(dst)
}

func (s *Store) find(c *chat.Chat, id ident.ID) *chat.Message {
	for _, m := range c.Messages {
		if m.ID.Matches(id) {
			return m
		}
	}
	return nil
}

func (s *Store) lookup(id ident.ID) *chat.Chat {
	if id.Server != "" {
		if c, ok := s.index[id.Server]; ok {
			return c
		}
	}
	if id.Local != "" {
		if c, ok := s.index[id.Local]; ok {
			return c
		}
	}
	return nil
}

func (s *Store) reindex(c *chat.Chat) {
	if c.ID.Server != "" {
		s.index[c.ID.Server] = c
	}
	if c.ID.Local != "" {
		s.index[c.ID.Local] = c
	}
}

func (s *Store) sortMessages(c *chat.Chat) {
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].Timestamp < c.Messages[j].Timestamp
	})
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func referenced(m *chat.Message, ids []string) bool {
	return (m.ID.Server != "" && slices.Contains(ids, m.ID.Server)) ||
		(m.ID.Local != "" && slices.Contains(ids, m.ID.Local))
}

func snapshotChat(c *chat.Chat) *chat.Chat {
	out := *c
	out.Participants = slices.Clone(c.Participants)
	out.Admins = slices.Clone(c.Admins)
	out.Messages = make([]*chat.Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return &out
}
