package chat

import (
	"testing"

	"github.com/nortia-app/chatsync/internal/ident"
)

func TestAddReaderSetSemantics(t *testing.T) {
	m := &Message{ID: ident.Local("l1")}

	if !m.AddReader("u1") {
		t.Error("first AddReader should report growth")
	}
	if m.AddReader("u1") {
		t.Error("duplicate AddReader should be a no-op")
	}
	m.AddReader("u2")
	if len(m.ReadBy) != 2 {
		t.Errorf("read-by size = %d, want 2", len(m.ReadBy))
	}
	if m.AddReader("") {
		t.Error("empty reader should be rejected")
	}
}

func TestMessageMergeFromServerWins(t *testing.T) {
	local := &Message{
		ID:     ident.Local("l1"),
		Sender: "me",
		Body:   "hello",
		Status: DeliveryPending,
		ReadBy: []string{"me"},
	}
	echo := &Message{
		ID:     ident.ID{Local: "l1", Server: "s1"},
		Status: DeliverySent,
		ReadBy: []string{"them"},
	}

	local.MergeFrom(echo)

	if local.ID.Server != "s1" || local.ID.Local != "l1" {
		t.Errorf("id = %+v, want both halves", local.ID)
	}
	if local.Status != DeliverySent {
		t.Errorf("status = %q, want sent", local.Status)
	}
	if local.Body != "hello" {
		t.Errorf("body = %q, empty server field must not erase", local.Body)
	}
	if len(local.ReadBy) != 2 {
		t.Errorf("read-by = %v, want union of both sets", local.ReadBy)
	}
}

func TestClassifyMIME(t *testing.T) {
	cases := map[string]AttachmentType{
		"image/png":       AttachmentImage,
		"video/mp4":       AttachmentVideo,
		"application/pdf": AttachmentDocument,
		"text/csv":        AttachmentDocument,
		"audio/ogg":       AttachmentOther,
		"":                AttachmentOther,
	}
	for mime, want := range cases {
		if got := ClassifyMIME(mime); got != want {
			t.Errorf("ClassifyMIME(%q) = %q, want %q", mime, got, want)
		}
	}
}

func TestUpdateApplyTo(t *testing.T) {
	c := &Chat{Name: "old", Description: "keep", Participants: []string{"a"}}
	name := "new"
	Update{Name: &name, Participants: []string{"a", "b"}}.ApplyTo(c)

	if c.Name != "new" {
		t.Errorf("name = %q, want new", c.Name)
	}
	if c.Description != "keep" {
		t.Errorf("description = %q, nil field must not touch", c.Description)
	}
	if len(c.Participants) != 2 {
		t.Errorf("participants = %v, want 2", c.Participants)
	}
}
