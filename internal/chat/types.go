package chat

import (
	"slices"
	"strings"

	"github.com/nortia-app/chatsync/internal/ident"
)

// Kind classifies a conversation.
type Kind string

const (
	KindDirect    Kind = "direct"
	KindGroup     Kind = "group"
	KindBroadcast Kind = "broadcast"
)

// Status is the lifecycle status of a conversation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// MessageKind tags the content of a message.
type MessageKind string

const (
	MessagePlain MessageKind = "plain"
	MessageAlert MessageKind = "alert"
	MessagePromo MessageKind = "promo"
	MessageVisit MessageKind = "visit"
)

// DeliveryStatus tracks an outgoing message through the send path.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// AttachmentStatus tracks an attachment upload, independent of the message
// delivery status.
type AttachmentStatus string

const (
	AttachmentUploading AttachmentStatus = "uploading"
	AttachmentUploaded  AttachmentStatus = "uploaded"
	AttachmentFailed    AttachmentStatus = "failed"
)

// AttachmentType is a coarse MIME-derived classification.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentDocument AttachmentType = "document"
	AttachmentOther    AttachmentType = "other"
)

// ClassifyMIME maps a MIME type to its coarse attachment classification.
func ClassifyMIME(mime string) AttachmentType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return AttachmentImage
	case strings.HasPrefix(mime, "video/"):
		return AttachmentVideo
	case strings.HasPrefix(mime, "application/"), strings.HasPrefix(mime, "text/"):
		return AttachmentDocument
	default:
		return AttachmentOther
	}
}

// Attachment describes one file attached to a message. LocalPath exists only
// on the originating client before the upload finishes; URL exists once the
// server has stored the file.
type Attachment struct {
	Name      string           `json:"name"`
	Size      int64            `json:"size"`
	Type      AttachmentType   `json:"type"`
	URL       string           `json:"url,omitempty"`
	LocalPath string           `json:"-"`
	Progress  int              `json:"progress,omitempty"`
	Status    AttachmentStatus `json:"status"`
}

// Message is one entry in a conversation. Timestamps are unix milliseconds.
type Message struct {
	ID          ident.ID       `json:"id"`
	Sender      string         `json:"sender"`
	Body        string         `json:"body"`
	Kind        MessageKind    `json:"kind"`
	Timestamp   int64          `json:"timestamp"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Status      DeliveryStatus `json:"status"`
	ReadBy      []string       `json:"readBy,omitempty"`
}

// ReadByUser reports whether userID has read the message.
func (m *Message) ReadByUser(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// AddReader adds userID to the read-by set. Returns false when the user was
// already present; the set only ever grows.
func (m *Message) AddReader(userID string) bool {
	if userID == "" || m.ReadByUser(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// MergeFrom folds a server-confirmed copy into the receiver. Server-provided
// fields win; the read-by set is unioned so it never shrinks.
func (m *Message) MergeFrom(other *Message) {
	m.ID = m.ID.Merge(other.ID)
	if other.Sender != "" {
		m.Sender = other.Sender
	}
	if other.Body != "" {
		m.Body = other.Body
	}
	if other.Kind != "" {
		m.Kind = other.Kind
	}
	if other.Timestamp != 0 {
		m.Timestamp = other.Timestamp
	}
	if other.Status != "" {
		m.Status = other.Status
	}
	if len(other.Attachments) > 0 {
		m.Attachments = other.Attachments
	}
	for _, r := range other.ReadBy {
		m.AddReader(r)
	}
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (m *Message) Clone() *Message {
	out := *m
	out.Attachments = slices.Clone(m.Attachments)
	out.ReadBy = slices.Clone(m.ReadBy)
	return &out
}

// Chat is one conversation and its ordered messages. Direct chats have
// exactly two participants and no admins; group and broadcast chats carry a
// mutable participant set with an admin subset.
type Chat struct {
	ID           ident.ID    `json:"id"`
	Kind         Kind        `json:"kind"`
	Status       Status      `json:"status"`
	Name         string      `json:"name,omitempty"`
	Description  string      `json:"description,omitempty"`
	Participants []string    `json:"participants,omitempty"`
	Admins       []string    `json:"admins,omitempty"`
	UpdatedAt    int64       `json:"updatedAt"`
	Messages     []*Message  `json:"messages,omitempty"`

	// HistoryExhausted is set once the server signals there are no older
	// messages to page in for this chat.
	HistoryExhausted bool `json:"-"`
}

// MergeFrom folds server-confirmed chat metadata into the receiver without
// touching the message list.
func (c *Chat) MergeFrom(other *Chat) {
	c.ID = c.ID.Merge(other.ID)
	if other.Kind != "" {
		c.Kind = other.Kind
	}
	if other.Status != "" {
		c.Status = other.Status
	}
	if other.Name != "" {
		c.Name = other.Name
	}
	if other.Description != "" {
		c.Description = other.Description
	}
	if other.Participants != nil {
		c.Participants = slices.Clone(other.Participants)
	}
	if other.Admins != nil {
		c.Admins = slices.Clone(other.Admins)
	}
	if other.UpdatedAt > c.UpdatedAt {
		c.UpdatedAt = other.UpdatedAt
	}
}

// Update carries the mutable metadata of a chat:edit. Nil fields are left
// untouched.
type Update struct {
	Name         *string  `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Admins       []string `json:"admins,omitempty"`
}

// ApplyTo applies the update to a chat in place.
func (u Update) ApplyTo(c *Chat) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Description != nil {
		c.Description = *u.Description
	}
	if u.Participants != nil {
		c.Participants = slices.Clone(u.Participants)
	}
	if u.Admins != nil {
		c.Admins = slices.Clone(u.Admins)
	}
}
