package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nortia-app/chatsync/internal/bus"
	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/metrics"
	"github.com/nortia-app/chatsync/internal/notify"
	"github.com/nortia-app/chatsync/internal/queue"
	"github.com/nortia-app/chatsync/internal/session"
	"github.com/nortia-app/chatsync/internal/status"
	"go.uber.org/zap"
)

var (
	// ErrAckTimeout means a sequenced frame was written but never acked.
	ErrAckTimeout = errors.New("delivery acknowledgment timed out")
	// ErrRejected means the server acked a frame with success=false.
	ErrRejected = errors.New("server rejected delivery")
	// ErrConnectionLost means the connection dropped before the ack arrived.
	ErrConnectionLost = errors.New("connection lost before acknowledgment")
	// ErrLoggedOut means the session ended and the manager will not reconnect.
	ErrLoggedOut = errors.New("session logged out")
)

// Options configures a Manager.
type Options struct {
	URL         string
	Tokens      session.TokenSource
	Machine     *status.Machine
	Queues      *queue.Set
	Notify      *notify.Center
	Bus        *bus.Bus
	Logger     *zap.Logger
	AckTimeout time.Duration
}

// Manager owns the persistent connection to the chat server. It dials with
// the current bearer credential, decodes server pushes onto the wire.* bus
// namespace, and sequences outbound frames against delivery acks. While the
// connection is down, Emit parks actions in the bounded queue set; a fresh
// connection replays them in queue.FlushOrder before anything else goes out.
//
// Reconnection is caller-driven. A drop raises the persistent lost indicator
// and then waits: the next dial happens when the host calls Connect or the
// user foregrounds the app, never on a timer.
//
// The read loop is started exactly once per dialed connection and every
// teardown path is keyed to the connection it belongs to, so a stale loop can
// never tear down its successor.
type Manager struct {
	url     string
	tokens  session.TokenSource
	machine *status.Machine
	queues  *queue.Set
	center  *notify.Center
	bus     *bus.Bus
	logger  *zap.Logger

	ackTimeout time.Duration

	mu        sync.Mutex
	ws        *websocket.Conn
	seq       uint64
	acks      map[uint64]chan chat.Ack
	visible   bool
	loggedOut bool
	dialing   bool

	writeMu sync.Mutex
}

// NewManager creates a connection manager. It does not dial.
func NewManager(opts Options) *Manager {
	return &Manager{
		url:        opts.URL,
		tokens:     opts.Tokens,
		machine:    opts.Machine,
		queues:     opts.Queues,
		center:     opts.Notify,
		bus:        opts.Bus,
		logger:     opts.Logger,
		ackTimeout: opts.AckTimeout,
	}
}

// Connect dials the chat server and brings the connection up. On success the
// connection-lost indicator is dismissed, a toast announces the reconnect and
// the outbound queues are flushed in kind order. Calling Connect while
// already connected is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.loggedOut {
		m.mu.Unlock()
		return ErrLoggedOut
	}
	if m.ws != nil || m.dialing {
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.dialing = false
		m.mu.Unlock()
	}()

	if err := m.machine.Transition(status.Connecting); err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.tokens.Token())
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, m.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			_ = m.machine.Transition(status.Unauthorized)
			m.mu.Lock()
			m.dialing = false
			m.mu.Unlock()
			return m.refreshAndRedial(ctx)
		}
		_ = m.machine.Transition(status.Disconnected)
		m.center.ShowPersistent(notify.KeyConnectionLost, "unable to reach the chat service")
		return fmt.Errorf("dial %s: %w", m.url, err)
	}

	m.mu.Lock()
	m.ws = ws
	m.acks = make(map[uint64]chan chat.Ack)
	m.mu.Unlock()

	_ = m.machine.Transition(status.Connected)
	metrics.ReconnectsTotal.Inc()
	m.center.Dismiss(notify.KeyConnectionLost)
	m.center.Toast("connected")
	m.bus.Publish(bus.Event{Kind: bus.KindConnConnected, Timestamp: time.Now()})
	if m.logger != nil {
		m.logger.Info("connected", zap.String("url", m.url))
	}

	go m.readLoop(ws)
	m.flush()
	return nil
}

// Disconnect tears the connection down deliberately. The manager never
// redials on its own, so the session stays down until the next Connect or
// visibility change. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	ws := m.ws
	m.ws = nil
	acks := m.acks
	m.acks = nil
	m.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	for _, ch := range acks {
		close(ch)
	}
	if !m.machine.Is(status.Disconnected) {
		_ = m.machine.Transition(status.Disconnected)
	}
	m.center.DismissAll()
}

// SetVisible records whether the user is looking at the app. Becoming
// visible while disconnected triggers a dial; the socket is never torn down
// on hide.
func (m *Manager) SetVisible(v bool) {
	m.mu.Lock()
	m.visible = v
	dial := v && m.ws == nil && !m.loggedOut
	m.mu.Unlock()

	if dial {
		go func() {
			if err := m.Connect(context.Background()); err != nil && m.logger != nil {
				m.logger.Warn("connect on foreground failed", zap.Error(err))
			}
		}()
	}
}

// Visible reports the last value passed to SetVisible.
func (m *Manager) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// LoggedOut reports whether the session ended with a failed credential
// refresh.
func (m *Manager) LoggedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedOut
}

// Emit sends one action to the server. While disconnected it parks the
// action in the queue for its kind and reports success without delivery;
// once connected it frames the payload with the next sequence number and
// blocks until the delivery ack arrives or the ack window elapses. delivered
// is true only when the server acked the frame.
func (m *Manager) Emit(kind queue.Kind, payload any) (delivered bool, err error) {
	m.mu.Lock()
	if m.loggedOut {
		m.mu.Unlock()
		return false, ErrLoggedOut
	}
	ws := m.ws
	if ws == nil {
		m.queues.Enqueue(kind, payload)
		m.mu.Unlock()
		return false, nil
	}
	m.seq++
	seq := m.seq
	ch := make(chan chat.Ack, 1)
	m.acks[seq] = ch
	m.mu.Unlock()

	frame, err := chat.Encode(string(kind), seq, payload)
	if err != nil {
		m.clearAck(seq)
		return false, err
	}

	m.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, frame)
	m.writeMu.Unlock()
	if err != nil {
		// The write surfaced the drop before the read loop did. Park the
		// action for replay and let teardown run once.
		m.clearAck(seq)
		m.queues.Enqueue(kind, payload)
		m.teardown(ws, err)
		return false, nil
	}
	if err := m.awaitAck(seq, ch); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) awaitAck(seq uint64, ch chan chat.Ack) error {
	timer := time.NewTimer(m.ackTimeout)
	defer timer.Stop()

	select {
	case ack, ok := <-ch:
		if !ok {
			return ErrConnectionLost
		}
		if !ack.Success {
			return ErrRejected
		}
		return nil
	case <-timer.C:
		m.clearAck(seq)
		metrics.AckTimeoutsTotal.Inc()
		return ErrAckTimeout
	}
}

func (m *Manager) clearAck(seq uint64) {
	m.mu.Lock()
	delete(m.acks, seq)
	m.mu.Unlock()
}

// flush drains every queue in FlushOrder onto the live connection. Each
// queue empties completely before the next starts; a drop mid-flush sends
// the remaining entries back through Emit's disconnected path.
func (m *Manager) flush() {
	for _, kind := range queue.FlushOrder {
		for _, e := range m.queues.Drain(kind) {
			if _, err := m.Emit(e.Kind, e.Payload); err != nil && m.logger != nil {
				m.logger.Warn("queued action failed on replay",
					zap.String("kind", string(e.Kind)), zap.Error(err))
			}
		}
	}
}

func (m *Manager) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			m.teardown(ws, err)
			return
		}

		var env chat.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			metrics.InboundDroppedTotal.Inc()
			if m.logger != nil {
				m.logger.Warn("unreadable frame", zap.Error(err))
			}
			continue
		}

		if env.Event == chat.EventAck {
			var ack chat.Ack
			if err := json.Unmarshal(env.Data, &ack); err != nil {
				if m.logger != nil {
					m.logger.Warn("unreadable ack", zap.Error(err))
				}
				continue
			}
			m.resolveAck(ack)
			continue
		}

		metrics.InboundEventsTotal.WithLabelValues(env.Event).Inc()
		payload, err := chat.DecodeInbound(env)
		if err != nil {
			metrics.InboundDroppedTotal.Inc()
			if m.logger != nil {
				m.logger.Warn("dropped inbound event",
					zap.String("event", env.Event), zap.Error(err))
			}
			continue
		}

		if _, ok := payload.(chat.UnauthorizedSignal); ok {
			m.handleUnauthorized(ws)
			return
		}

		m.bus.Publish(bus.Event{
			Kind:      busKindFor(env.Event),
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
}

func busKindFor(event string) string {
	switch event {
	case chat.EventNewMessage:
		return bus.KindWireNewMessage
	case chat.EventMessageRead:
		return bus.KindWireMessageRead
	case chat.EventNewChat:
		return bus.KindWireNewChat
	case chat.EventUpdatedChat:
		return bus.KindWireUpdatedChat
	}
	return "wire.unknown"
}

func (m *Manager) resolveAck(ack chat.Ack) {
	m.mu.Lock()
	ch, ok := m.acks[ack.AckSeq]
	if ok {
		delete(m.acks, ack.AckSeq)
	}
	m.mu.Unlock()
	if ok {
		ch <- ack
	}
}

// teardown handles an unplanned drop. Keyed to the connection that dropped:
// a stale read loop observing its own dead connection cannot tear down a
// newer one.
func (m *Manager) teardown(ws *websocket.Conn, cause error) {
	m.mu.Lock()
	if m.ws != ws {
		m.mu.Unlock()
		return
	}
	m.ws = nil
	acks := m.acks
	m.acks = nil
	m.mu.Unlock()

	_ = ws.Close()
	for _, ch := range acks {
		close(ch)
	}
	_ = m.machine.Transition(status.Disconnected)
	m.center.ShowPersistent(notify.KeyConnectionLost, "connection to the chat service lost")
	m.bus.Publish(bus.Event{Kind: bus.KindConnDisconnected, Timestamp: time.Now()})
	if m.logger != nil {
		m.logger.Warn("connection dropped", zap.Error(cause))
	}
}

// handleUnauthorized tears the connection down and refreshes the credential
// exactly once. A rotated credential redials immediately; a failed refresh
// ends the session.
func (m *Manager) handleUnauthorized(ws *websocket.Conn) {
	m.mu.Lock()
	if m.ws != ws {
		m.mu.Unlock()
		return
	}
	m.ws = nil
	acks := m.acks
	m.acks = nil
	m.mu.Unlock()

	_ = ws.Close()
	for _, ch := range acks {
		close(ch)
	}
	_ = m.machine.Transition(status.Unauthorized)
	if m.logger != nil {
		m.logger.Warn("server rejected credential")
	}

	if err := m.refreshAndRedial(context.Background()); err != nil && m.logger != nil {
		m.logger.Warn("credential refresh path failed", zap.Error(err))
	}
}

func (m *Manager) refreshAndRedial(ctx context.Context) error {
	if _, err := m.tokens.Refresh(ctx); err != nil {
		m.logout(err)
		return err
	}
	return m.Connect(ctx)
}

// logout ends the session: no further dials, queues cleared, indicators
// dismissed, and one session.logged_out event for the host application.
func (m *Manager) logout(cause error) {
	m.mu.Lock()
	if m.loggedOut {
		m.mu.Unlock()
		return
	}
	m.loggedOut = true
	m.mu.Unlock()

	_ = m.machine.Transition(status.Disconnected)
	m.queues.Clear()
	m.center.DismissAll()
	m.bus.Publish(bus.Event{
		Kind:      bus.KindSessionLoggedOut,
		Timestamp: time.Now(),
		Payload:   cause.Error(),
	})
	if m.logger != nil {
		m.logger.Info("logged out", zap.Error(cause))
	}
}
