package ident

import "github.com/google/uuid"

// LocalPrefix marks client-allocated identifiers so they can never collide
// with server-assigned ones.
const LocalPrefix = "loc-"

// ID carries the dual local/server identity of a chat or message. The local
// half is allocated client-side before the server has confirmed the record;
// the server half arrives with the confirmation and becomes canonical.
type ID struct {
	Local  string `json:"local,omitempty"`
	Server string `json:"server,omitempty"`
}

// NewLocal allocates a collision-resistant client-side identifier. It is safe
// to send to the server and have echoed back unchanged.
func NewLocal() string {
	return LocalPrefix + uuid.NewString()
}

// Local wraps a local identifier into an ID.
func Local(local string) ID {
	return ID{Local: local}
}

// Server wraps a server identifier into an ID.
func Server(server string) ID {
	return ID{Server: server}
}

// Key returns the identity used for lookups: the server identifier once it
// exists, otherwise the local one.
func (id ID) Key() string {
	if id.Server != "" {
		return id.Server
	}
	return id.Local
}

// IsZero reports whether neither half is set.
func (id ID) IsZero() bool {
	return id.Local == "" && id.Server == ""
}

// Confirmed reports whether the server has assigned an identifier.
func (id ID) Confirmed() bool {
	return id.Server != ""
}

// Matches reports whether two IDs refer to the same record. The local
// identifier wins when both sides carry one, since it is the tag that
// survives the optimistic round trip; the server identifier is the fallback.
func (id ID) Matches(other ID) bool {
	if id.Local != "" && other.Local != "" {
		return id.Local == other.Local
	}
	if id.Server != "" && other.Server != "" {
		return id.Server == other.Server
	}
	return false
}

// Merge combines a confirmed ID into a provisional one. Server-provided
// halves win; a present local half is never erased, so dedup by local
// identifier keeps working after confirmation.
func (id ID) Merge(other ID) ID {
	out := id
	if other.Server != "" {
		out.Server = other.Server
	}
	if out.Local == "" {
		out.Local = other.Local
	}
	return out
}
