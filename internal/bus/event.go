package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kind namespaces used across the sync core.
//
//	wire.     decoded server-pushed events, consumed by the dispatcher
//	chat.     conversation store mutations, consumed by the archive mirror
//	conn.     connection lifecycle
//	session.  auth lifecycle (logout escalation)
//	notify.   user-facing signals (toasts, indicators, desktop notifications)
const (
	KindWireNewMessage  = "wire.new_message"
	KindWireMessageRead = "wire.message_read"
	KindWireNewChat     = "wire.new_chat"
	KindWireUpdatedChat = "wire.updated_chat"

	KindChatMessageUpserted = "chat.message_upserted"
	KindChatUpdated         = "chat.updated"
	KindChatRead            = "chat.read"

	KindConnStatusChanged = "conn.status_changed"
	KindConnConnected     = "conn.connected"
	KindConnDisconnected  = "conn.disconnected"

	KindSessionLoggedOut = "session.logged_out"

	KindNotifyToast     = "notify.toast"
	KindNotifyIndicator = "notify.indicator"
	KindNotifyDesktop   = "notify.desktop"
)
