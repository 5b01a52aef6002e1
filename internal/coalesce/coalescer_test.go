package coalesce

import (
	"sync"
	"testing"
	"time"

	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/ident"
	"github.com/nortia-app/chatsync/internal/queue"
)

type recorder struct {
	mu    sync.Mutex
	kinds []queue.Kind
	loads []any
}

func (r *recorder) emit(kind queue.Kind, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.loads = append(r.loads, payload)
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		got := len(r.kinds)
		r.mu.Unlock()
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout: got %d emits, want %d", got, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func msgPayload(chatID, localID string) chat.MessagePayload {
	return chat.MessagePayload{ChatID: chatID, Message: &chat.Message{ID: ident.Local(localID)}}
}

func TestMessagesEmitOnePerBufferedMessage(t *testing.T) {
	rec := &recorder{}
	c := New(10*time.Millisecond, rec.emit, nil)
	defer c.Stop()

	c.QueueMessage(msgPayload("c1", "l1"))
	c.QueueMessage(msgPayload("c1", "l2"))
	c.QueueMessage(msgPayload("c2", "l3"))

	rec.wait(t, 3)
	// Same-conversation order preserved.
	first := rec.loads[0].(chat.MessagePayload)
	second := rec.loads[1].(chat.MessagePayload)
	if first.Message.ID.Local != "l1" || second.Message.ID.Local != "l2" {
		t.Errorf("message order lost: %v then %v", first.Message.ID, second.Message.ID)
	}
}

func TestReadsDedupPerConversation(t *testing.T) {
	rec := &recorder{}
	c := New(10*time.Millisecond, rec.emit, nil)
	defer c.Stop()

	c.QueueRead("c1", []string{"m1"})
	c.QueueRead("c2", []string{"m9"})
	c.QueueRead("c1", []string{"m2", "m1"})

	rec.wait(t, 2)

	if rec.kinds[0] != queue.KindRead || rec.kinds[1] != queue.KindRead {
		t.Fatalf("kinds = %v", rec.kinds)
	}
	p1 := rec.loads[0].(chat.ReadPayload)
	p2 := rec.loads[1].(chat.ReadPayload)
	if p1.ChatID != "c1" || p2.ChatID != "c2" {
		t.Errorf("batch order = %s,%s, want first-touch order c1,c2", p1.ChatID, p2.ChatID)
	}
	if len(p1.MessageIDs) != 2 {
		t.Errorf("c1 ids = %v, want m1,m2 deduplicated", p1.MessageIDs)
	}
}

func TestWindowAccumulates(t *testing.T) {
	rec := &recorder{}
	c := New(50*time.Millisecond, rec.emit, nil)
	defer c.Stop()

	c.QueueRead("c1", []string{"m1"})
	time.Sleep(5 * time.Millisecond)
	c.QueueRead("c1", []string{"m2"})

	rec.wait(t, 1)
	p := rec.loads[0].(chat.ReadPayload)
	if len(p.MessageIDs) != 2 {
		t.Errorf("ids = %v, want both receipts in one batch", p.MessageIDs)
	}
}

func TestStopCancelsWithoutFlushing(t *testing.T) {
	rec := &recorder{}
	c := New(20*time.Millisecond, rec.emit, nil)

	c.QueueMessage(msgPayload("c1", "l1"))
	c.QueueRead("c1", []string{"m1"})
	c.Stop()

	time.Sleep(60 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.kinds) != 0 {
		t.Errorf("emitted %v after Stop", rec.kinds)
	}
}

func TestQueueAfterStopIgnored(t *testing.T) {
	rec := &recorder{}
	c := New(5*time.Millisecond, rec.emit, nil)
	c.Stop()

	c.QueueMessage(msgPayload("c1", "l1"))
	time.Sleep(20 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.kinds) != 0 {
		t.Errorf("emitted %v after Stop", rec.kinds)
	}
}
