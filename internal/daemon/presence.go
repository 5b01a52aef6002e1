package daemon

import "sync"

// Presence is the mutable user-activity state the host application drives.
// The zero value is a foregrounded user with notifications enabled and no
// chat open, which is the safe default for a headless start.
type Presence struct {
	mu          sync.Mutex
	activeChat  string
	background  bool
	notifyMuted bool
}

// NewPresence creates the default presence state.
func NewPresence() *Presence {
	return &Presence{}
}

// SetActiveChat records which conversation the user is looking at. Empty
// means none.
func (p *Presence) SetActiveChat(chatKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeChat = chatKey
}

// SetForegrounded records whether the app window has focus.
func (p *Presence) SetForegrounded(fg bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.background = !fg
}

// SetNotificationsEnabled toggles desktop notifications.
func (p *Presence) SetNotificationsEnabled(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifyMuted = !on
}

// ActiveChat returns the open conversation key, or empty.
func (p *Presence) ActiveChat() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeChat
}

// Foregrounded reports whether the app window has focus.
func (p *Presence) Foregrounded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.background
}

// NotificationsEnabled reports whether desktop notifications are allowed.
func (p *Presence) NotificationsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.notifyMuted
}
