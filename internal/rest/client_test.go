package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/config"
	"github.com/nortia-app/chatsync/internal/ident"
)

type staticTokens string

func (s staticTokens) Token() string                            { return string(s) }
func (s staticTokens) Refresh(context.Context) (string, error) { return string(s), nil }

func fastRetry(attempts int) config.Retry {
	return config.Retry{MaxAttempts: attempts, InitialDelayMS: 1, MaxDelayMS: 4}
}

func TestChatsRetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]*chat.Chat{{ID: ident.Server("c1")}})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens("tok"), fastRetry(5), nil)
	chats, err := c.Chats(context.Background())
	if err != nil {
		t.Fatalf("Chats: %v", err)
	}
	if len(chats) != 1 || chats[0].ID.Server != "c1" {
		t.Errorf("chats = %v", chats)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestChatsGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens("tok"), fastRetry(3), nil)
	_, err := c.Chats(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Errorf("err = %v, want wrapped StatusError 500", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts = %d, want exactly 3", got)
	}
}

func TestOlderMessagesReportsHasMore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("before"); got != "100" {
			t.Errorf("before = %q", got)
		}
		_ = json.NewEncoder(w).Encode(olderResponse{
			Messages: []*chat.Message{{ID: ident.Server("m1"), Timestamp: 50}},
			HasMore:  true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens("tok"), fastRetry(1), nil)
	msgs, hasMore, err := c.OlderMessages(context.Background(), "c1", 100, 10)
	if err != nil {
		t.Fatalf("OlderMessages: %v", err)
	}
	if len(msgs) != 1 || !hasMore {
		t.Errorf("msgs = %v, hasMore = %v", msgs, hasMore)
	}
}

func TestMessagesForChatsBatchesIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "c1,c2" {
			t.Errorf("ids = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string][]*chat.Message{
			"c1": {{ID: ident.Server("m1"), Body: "hi", Timestamp: 10}},
			"c2": {},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens("tok"), fastRetry(1), nil)
	out, err := c.MessagesForChats(context.Background(), []string{"c1", "c2"})
	if err != nil {
		t.Fatalf("MessagesForChats: %v", err)
	}
	if len(out["c1"]) != 1 || out["c1"][0].ID.Server != "m1" {
		t.Errorf("out = %v", out)
	}
}

func TestMessagesForChatsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens("tok"), fastRetry(1), nil)
	_, err := c.MessagesForChats(context.Background(), []string{"c1"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Errorf("err = %v, want StatusError 403", err)
	}
}
