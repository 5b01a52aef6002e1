package notify

import (
	"testing"
	"time"

	"github.com/nortia-app/chatsync/internal/bus"
)

func collect(ch <-chan bus.Event, n int, t *testing.T) []bus.Event {
	t.Helper()
	var out []bus.Event
	for len(out) < n {
		select {
		case evt := <-ch:
			out = append(out, evt)
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d events, want %d", len(out), n)
		}
	}
	return out
}

func TestPersistentIdempotent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("notify.", 10)
	defer unsub()

	c := NewCenter(b)
	c.ShowPersistent(KeyConnectionLost, "connection lost")
	c.ShowPersistent(KeyConnectionLost, "connection lost")

	evts := collect(ch, 1, t)
	ind := evts[0].Payload.(Indicator)
	if !ind.Visible || ind.Key != KeyConnectionLost {
		t.Errorf("indicator = %+v", ind)
	}

	// Second show must not stack.
	select {
	case evt := <-ch:
		t.Errorf("duplicate indicator event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
	if !c.Showing(KeyConnectionLost) {
		t.Error("indicator should be showing")
	}
}

func TestDismiss(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("notify.", 10)
	defer unsub()

	c := NewCenter(b)
	c.Dismiss(KeyConnectionLost) // nothing showing: no event
	select {
	case evt := <-ch:
		t.Errorf("dismiss of absent indicator published %v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	c.ShowPersistent(KeyConnectionLost, "connection lost")
	c.Dismiss(KeyConnectionLost)

	evts := collect(ch, 2, t)
	if ind := evts[1].Payload.(Indicator); ind.Visible {
		t.Errorf("second event should hide, got %+v", ind)
	}
	if c.Showing(KeyConnectionLost) {
		t.Error("indicator should be dismissed")
	}
}

func TestDismissAll(t *testing.T) {
	b := bus.New()
	c := NewCenter(b)
	c.ShowPersistent("a", "a")
	c.ShowPersistent("b", "b")
	c.DismissAll()
	if c.Showing("a") || c.Showing("b") {
		t.Error("DismissAll left indicators showing")
	}
}
