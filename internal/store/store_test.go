package store

import (
	"fmt"
	"testing"

	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/ident"
)

func testStore() *Store {
	return New(nil, nil)
}

func confirmedChat(serverID string) *chat.Chat {
	return &chat.Chat{ID: ident.Server(serverID), Kind: chat.KindDirect}
}

func TestUpsertMessageDedupByLocalID(t *testing.T) {
	s := testStore()
	s.UpsertChat(confirmedChat("c1"))

	// Same local identifier, varying fields: exactly one message survives,
	// holding the most recently applied values.
	for i, body := range []string{"v1", "v2", "v3"} {
		err := s.UpsertMessage("c1", &chat.Message{
			ID:        ident.Local("l1"),
			Body:      body,
			Timestamp: int64(1000 + i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	c := s.Chat("c1")
	if len(c.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(c.Messages))
	}
	if c.Messages[0].Body != "v3" || c.Messages[0].Timestamp != 1002 {
		t.Errorf("message = %+v, want latest fields", c.Messages[0])
	}
}

// TestOptimisticSendThenConfirm covers the reconciliation core: a pending
// local message merged with its server echo must not duplicate.
func TestOptimisticSendThenConfirm(t *testing.T) {
	s := testStore()
	s.UpsertChat(confirmedChat("c1"))

	if err := s.UpsertMessage("c1", &chat.Message{
		ID:        ident.Local("L1"),
		Sender:    "me",
		Body:      "hello",
		Timestamp: 1000,
		Status:    chat.DeliveryPending,
	}); err != nil {
		t.Fatal(err)
	}

	// Server echo with the same local id plus a server id.
	if err := s.UpsertMessage("c1", &chat.Message{
		ID:        ident.ID{Local: "L1", Server: "S1"},
		Sender:    "me",
		Body:      "hello",
		Timestamp: 1000,
		Status:    chat.DeliverySent,
	}); err != nil {
		t.Fatal(err)
	}

	c := s.Chat("c1")
	if len(c.Messages) != 1 {
		t.Fatalf("got %d messages, want 1 after confirmation", len(c.Messages))
	}
	m := c.Messages[0]
	if m.ID.Server != "S1" || m.ID.Local != "L1" {
		t.Errorf("id = %+v, want both halves", m.ID)
	}
	if m.Status != chat.DeliverySent {
		t.Errorf("status = %q, want sent", m.Status)
	}
}

func TestMessagesSortedAfterEveryMutation(t *testing.T) {
	s := testStore()
	s.UpsertChat(confirmedChat("c1"))

	// Out-of-order arrival: optimistic insert, server echo, older history.
	stamps := []int64{500, 100, 900, 300, 700}
	for i, ts := range stamps {
		if err := s.UpsertMessage("c1", &chat.Message{
			ID:        ident.Local(fmt.Sprintf("l%d", i)),
			Timestamp: ts,
		}); err != nil {
			t.Fatal(err)
		}
	}

	assertSorted := func() {
		t.Helper()
		c := s.Chat("c1")
		for i := 1; i < len(c.Messages); i++ {
			if c.Messages[i-1].Timestamp > c.Messages[i].Timestamp {
				t.Fatalf("messages out of order at %d: %d > %d",
					i, c.Messages[i-1].Timestamp, c.Messages[i].Timestamp)
			}
		}
	}
	assertSorted()

	older := []*chat.Message{
		{ID: ident.Server("s-old-2"), Timestamp: 50},
		{ID: ident.Server("s-old-1"), Timestamp: 20},
	}
	if err := s.PrependOlder("c1", older, false); err != nil {
		t.Fatal(err)
	}
	assertSorted()
}

func TestSameTimestampKeepsInsertionOrder(t *testing.T) {
	s := testStore()
	s.UpsertChat(confirmedChat("c1"))

	for _, id := range []string{"a", "b", "c"} {
		if err := s.UpsertMessage("c1", &chat.Message{ID: ident.Local(id), Timestamp: 1000}); err != nil {
			t.Fatal(err)
		}
	}
	c := s.Chat("c1")
	got := []string{c.Messages[0].ID.Local, c.Messages[1].ID.Local, c.Messages[2].ID.Local}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("order = %v, stable sort must keep insertion order", got)
	}
}

func TestMarkReadMonotonic(t *testing.T) {
	s := testStore()
	s.UpsertChat(confirmedChat("c1"))
	if err := s.UpsertMessage("c1", &chat.Message{ID: ident.Server("m1"), Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	if n := s.MarkRead("c1", "u1", []string{"m1"}); n != 1 {
		t.Errorf("first MarkRead changed %d, want 1", n)
	}
	// Applying the same receipt twice is a no-op.
	if n := s.MarkRead("c1", "u1", []string{"m1"}); n != 0 {
		t.Errorf("duplicate MarkRead changed %d, want 0", n)
	}
	s.MarkRead("c1", "u2", []string{"m1"})

	c := s.Chat("c1")
	if len(c.Messages[0].ReadBy) != 2 {
		t.Errorf("read-by = %v, want 2 readers", c.Messages[0].ReadBy)
	}
}

func TestUpsertChatConfirmationReplacesNotDuplicates(t *testing.T) {
	s := testStore()

	pending := &chat.Chat{ID: ident.Local("lc1"), Kind: chat.KindGroup, Name: "team"}
	s.UpsertChat(pending)

	if got := s.Chat("lc1"); got == nil || got.Status != chat.StatusPending {
		t.Fatalf("pending chat = %+v", got)
	}

	// Server confirmation carries both halves.
	s.UpsertChat(&chat.Chat{
		ID:           ident.ID{Local: "lc1", Server: "sc1"},
		Kind:         chat.KindGroup,
		Name:         "team",
		Participants: []string{"me", "them"},
	})

	if len(s.Chats()) != 1 {
		t.Fatalf("got %d chats, want 1 after confirmation", len(s.Chats()))
	}
	confirmed := s.Chat("sc1")
	if confirmed == nil || confirmed.Status != chat.StatusConfirmed {
		t.Fatalf("confirmed chat = %+v", confirmed)
	}
	// The local identifier stays usable as an alias.
	if alias := s.Chat("lc1"); alias == nil || alias.ID.Server != "sc1" {
		t.Error("local identifier should alias the confirmed record")
	}
}

// A message for a freshly created chat can arrive under the server id before
// the creation echo does, making the dispatcher fetch the parent over REST.
// That leaves the conversation held twice, once per identifier, until the
// echo carrying both halves folds them back together.
func TestUpsertChatReconcilesFetchedTwin(t *testing.T) {
	s := testStore()

	s.UpsertChat(&chat.Chat{ID: ident.Local("lc1"), Kind: chat.KindGroup, Name: "team"})
	if err := s.UpsertMessage("lc1", &chat.Message{
		ID: ident.Local("lm1"), Sender: "me", Body: "hello", Timestamp: 100, Status: chat.DeliveryPending,
	}); err != nil {
		t.Fatal(err)
	}

	// REST copy fetched for an early inbound message, server id only.
	s.UpsertChat(&chat.Chat{ID: ident.Server("sc1"), Kind: chat.KindGroup, Name: "team"})
	if err := s.UpsertMessage("sc1", &chat.Message{
		ID: ident.Server("sm2"), Sender: "them", Body: "welcome", Timestamp: 200,
	}); err != nil {
		t.Fatal(err)
	}

	// Creation echo carrying both halves.
	s.UpsertChat(&chat.Chat{ID: ident.ID{Local: "lc1", Server: "sc1"}, Kind: chat.KindGroup})

	if got := len(s.Chats()); got != 1 {
		t.Fatalf("got %d chats, want 1 after reconciliation", got)
	}
	merged := s.Chat("sc1")
	if merged.ID.Local != "lc1" || merged.Status != chat.StatusConfirmed {
		t.Fatalf("merged chat = %+v", merged)
	}
	if len(merged.Messages) != 2 {
		t.Fatalf("got %d messages, want both sides kept", len(merged.Messages))
	}
	if alias := s.Chat("lc1"); alias == nil || alias.ID.Server != "sc1" {
		t.Error("local identifier should alias the merged record")
	}
}

func TestSetAttachmentState(t *testing.T) {
	s := testStore()
	s.UpsertChat(confirmedChat("c1"))
	if err := s.UpsertMessage("c1", &chat.Message{
		ID:        ident.Local("l1"),
		Timestamp: 100,
		Attachments: []chat.Attachment{{
			Name: "photo.jpg", Type: chat.AttachmentImage,
			LocalPath: "/tmp/photo.jpg", Status: chat.AttachmentUploading,
		}},
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetAttachmentState("c1", "l1", 0, chat.AttachmentUploaded, 100, "https://files/photo.jpg"); err != nil {
		t.Fatalf("SetAttachmentState: %v", err)
	}
	a := s.Chat("c1").Messages[0].Attachments[0]
	if a.Status != chat.AttachmentUploaded || a.Progress != 100 {
		t.Errorf("attachment = %+v", a)
	}
	if a.URL == "" || a.LocalPath != "" {
		t.Errorf("upload completion must swap the staging path for the URL, got %+v", a)
	}

	if err := s.SetAttachmentState("c1", "l1", 5, chat.AttachmentFailed, 0, ""); err == nil {
		t.Error("out-of-range index must error")
	}
	if err := s.SetAttachmentState("c1", "nope", 0, chat.AttachmentFailed, 0, ""); err != ErrUnknownMessage {
		t.Errorf("err = %v, want ErrUnknownMessage", err)
	}
	if err := s.SetAttachmentState("nope", "l1", 0, chat.AttachmentFailed, 0, ""); err != ErrUnknownChat {
		t.Errorf("err = %v, want ErrUnknownChat", err)
	}
}

func TestUpsertMessageUnknownChat(t *testing.T) {
	s := testStore()
	err := s.UpsertMessage("missing", &chat.Message{ID: ident.Local("l1")})
	if err != ErrUnknownChat {
		t.Errorf("err = %v, want ErrUnknownChat", err)
	}
}

func TestPrependOlderDedupsByServerID(t *testing.T) {
	s := testStore()
	s.UpsertChat(confirmedChat("c1"))
	if err := s.UpsertMessage("c1", &chat.Message{ID: ident.Server("m5"), Timestamp: 500}); err != nil {
		t.Fatal(err)
	}

	// The page overlaps the oldest held message.
	older := []*chat.Message{
		{ID: ident.Server("m5"), Timestamp: 500},
		{ID: ident.Server("m4"), Timestamp: 400},
		{ID: ident.Server("m3"), Timestamp: 300},
	}
	if err := s.PrependOlder("c1", older, true); err != nil {
		t.Fatal(err)
	}

	c := s.Chat("c1")
	if len(c.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 (overlap deduplicated)", len(c.Messages))
	}
	if !s.HistoryExhausted("c1") {
		t.Error("exhausted flag should stick")
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := testStore()
	s.UpsertChat(confirmedChat("c1"))
	if err := s.UpsertMessage("c1", &chat.Message{ID: ident.Local("l1"), Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	s.Reset()

	if len(s.Chats()) != 0 {
		t.Error("Reset left chats behind")
	}
	if s.Chat("c1") != nil {
		t.Error("Reset left index entries behind")
	}
}

func TestChatsOrderedByActivity(t *testing.T) {
	s := testStore()
	s.UpsertChat(confirmedChat("a"))
	s.UpsertChat(confirmedChat("b"))
	if err := s.UpsertMessage("a", &chat.Message{ID: ident.Local("l1"), Timestamp: 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertMessage("b", &chat.Message{ID: ident.Local("l2"), Timestamp: 200}); err != nil {
		t.Fatal(err)
	}

	chats := s.Chats()
	if chats[0].ID.Server != "b" {
		t.Errorf("most recently active chat should sort first, got %s", chats[0].ID.Server)
	}
}
