package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire event names, shared verbatim between client and server.
const (
	EventMessage      = "chat:message"
	EventNewMessage   = "chat:newMessage"
	EventRead         = "chat:read"
	EventMessageRead  = "chat:messageRead"
	EventCreate       = "chat:create"
	EventNewChat      = "chat:newChat"
	EventEdit         = "chat:edit"
	EventUpdatedChat  = "chat:updatedChat"
	EventAutomated    = "chat:automatedMessage"
	EventUnauthorized = "reconnect:unauthorized"
	EventAck          = "ack"
)

var (
	// ErrUnknownEvent is returned for event names this client does not speak.
	ErrUnknownEvent = errors.New("unknown wire event")
	// ErrBadPayload is returned when a payload fails shape validation.
	ErrBadPayload = errors.New("malformed wire payload")
)

// Envelope frames every event on the persistent connection. Seq is non-zero
// only on client frames that expect a delivery acknowledgment.
type Envelope struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the server's delivery acknowledgment for a sequenced frame.
type Ack struct {
	AckSeq  uint64 `json:"ackSeq"`
	Success bool   `json:"success"`
}

// MessagePayload carries chat:message and chat:newMessage.
type MessagePayload struct {
	ChatID  string   `json:"chatId"`
	Message *Message `json:"message"`
}

// ReadPayload carries chat:read (client batch of read receipts).
type ReadPayload struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

// MessageReadPayload carries chat:messageRead (server fan-out of a receipt).
type MessageReadPayload struct {
	ChatID     string   `json:"chatId"`
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

// ChatPayload carries chat:create, chat:newChat and chat:updatedChat.
type ChatPayload struct {
	Chat *Chat `json:"chat"`
}

// EditPayload carries chat:edit.
type EditPayload struct {
	ChatID  string `json:"chatId"`
	Updated Update `json:"updatedData"`
}

// AutomatedPayload carries chat:automatedMessage, a broadcast of one message
// to many target chats.
type AutomatedPayload struct {
	TargetIDs []string `json:"targetIds"`
	Message   *Message `json:"message"`
}

// Encode frames an event payload into wire bytes.
func Encode(event string, seq uint64, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Seq: seq, Data: data})
}

// DecodeInbound validates a server-pushed envelope and returns its typed
// payload. Unknown events and malformed payloads are rejected rather than
// trusted structurally.
func DecodeInbound(env Envelope) (any, error) {
	switch env.Event {
	case EventNewMessage:
		var p MessagePayload
		if err := unmarshalStrict(env.Data, &p); err != nil {
			return nil, err
		}
		if p.ChatID == "" || p.Message == nil || p.Message.ID.IsZero() {
			return nil, fmt.Errorf("%w: %s needs chatId and an identified message", ErrBadPayload, env.Event)
		}
		return p, nil

	case EventMessageRead:
		var p MessageReadPayload
		if err := unmarshalStrict(env.Data, &p); err != nil {
			return nil, err
		}
		if p.ChatID == "" || p.UserID == "" || len(p.MessageIDs) == 0 {
			return nil, fmt.Errorf("%w: %s needs chatId, userId and messageIds", ErrBadPayload, env.Event)
		}
		return p, nil

	case EventNewChat, EventUpdatedChat:
		var p ChatPayload
		if err := unmarshalStrict(env.Data, &p); err != nil {
			return nil, err
		}
		if p.Chat == nil || p.Chat.ID.IsZero() {
			return nil, fmt.Errorf("%w: %s needs an identified chat", ErrBadPayload, env.Event)
		}
		return p, nil

	case EventUnauthorized:
		// Signal only, no payload.
		return UnauthorizedSignal{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// UnauthorizedSignal is the typed form of reconnect:unauthorized.
type UnauthorizedSignal struct{}

func unmarshalStrict(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrBadPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
