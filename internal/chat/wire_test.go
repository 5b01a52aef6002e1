package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nortia-app/chatsync/internal/ident"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := &Message{
		ID:        ident.ID{Local: "loc-1", Server: "srv-1"},
		Sender:    "u1",
		Body:      "hello",
		Kind:      MessagePlain,
		Timestamp: 1000,
		Status:    DeliverySent,
	}
	raw, err := Encode(EventNewMessage, 0, MessagePayload{ChatID: "c1", Message: msg})
	if err != nil {
		t.Fatal(err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeInbound(env)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := decoded.(MessagePayload)
	if !ok {
		t.Fatalf("decoded %T, want MessagePayload", decoded)
	}
	if p.ChatID != "c1" || p.Message.Body != "hello" || p.Message.ID.Key() != "srv-1" {
		t.Errorf("round trip lost fields: %+v", p)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := DecodeInbound(Envelope{Event: "chat:typing", Data: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"empty data", Envelope{Event: EventNewMessage}},
		{"not json", Envelope{Event: EventNewMessage, Data: json.RawMessage(`{{`)}},
		{"missing chat id", Envelope{Event: EventNewMessage, Data: json.RawMessage(`{"message":{"id":{"local":"l1"}}}`)}},
		{"unidentified message", Envelope{Event: EventNewMessage, Data: json.RawMessage(`{"chatId":"c1","message":{"body":"x"}}`)}},
		{"read without ids", Envelope{Event: EventMessageRead, Data: json.RawMessage(`{"chatId":"c1","userId":"u1"}`)}},
		{"chat without id", Envelope{Event: EventNewChat, Data: json.RawMessage(`{"chat":{"name":"x"}}`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeInbound(tc.env); !errors.Is(err, ErrBadPayload) {
				t.Errorf("err = %v, want ErrBadPayload", err)
			}
		})
	}
}

func TestDecodeUnauthorizedSignal(t *testing.T) {
	decoded, err := DecodeInbound(Envelope{Event: EventUnauthorized})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded.(UnauthorizedSignal); !ok {
		t.Errorf("decoded %T, want UnauthorizedSignal", decoded)
	}
}
