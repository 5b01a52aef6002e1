package archive

import (
	"sync"

	"github.com/nortia-app/chatsync/internal/bus"
	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/store"
	"go.uber.org/zap"
)

// Mirror subscribes to the chat.* bus namespace and writes server-confirmed
// records through to the archive. Provisional records never land here; they
// reach the archive once their confirmation flows back through the store.
// Write failures are logged and swallowed, the live session does not depend
// on the archive.
type Mirror struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger

	stop func()
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMirror creates a mirror. Call Start to begin consuming.
func NewMirror(db *DB, b *bus.Bus, logger *zap.Logger) *Mirror {
	return &Mirror{db: db, bus: b, logger: logger}
}

// Start subscribes to store mutations and launches the write-behind loop.
func (m *Mirror) Start() {
	events, cancel := m.bus.Subscribe("chat.", 256)
	m.stop = cancel
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(events)
}

// Stop unsubscribes and waits for the in-flight write to finish.
func (m *Mirror) Stop() {
	m.once.Do(func() {
		if m.stop == nil {
			return
		}
		m.stop()
		close(m.quit)
		<-m.done
	})
}

func (m *Mirror) run(events <-chan bus.Event) {
	defer close(m.done)
	for {
		select {
		case <-m.quit:
			return
		case evt := <-events:
			m.handle(evt)
		}
	}
}

func (m *Mirror) handle(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case *chat.Chat:
		if !p.ID.Confirmed() {
			return
		}
		if err := m.db.UpsertChat(p); err != nil {
			m.warn("archive chat write failed", err)
			return
		}
		// A chat snapshot can carry messages, e.g. the warm-start page.
		for _, msg := range p.Messages {
			if !msg.ID.Confirmed() {
				continue
			}
			if err := m.db.UpsertMessage(p.ID.Server, msg); err != nil {
				m.warn("archive message write failed", err)
			}
		}
	case store.MessageEvent:
		if p.ChatServerID == "" || !p.Message.ID.Confirmed() {
			return
		}
		if err := m.db.UpsertMessage(p.ChatServerID, p.Message); err != nil {
			m.warn("archive message write failed", err)
		}
	}
}

func (m *Mirror) warn(msg string, err error) {
	if m.logger != nil {
		m.logger.Warn(msg, zap.Error(err))
	}
}
