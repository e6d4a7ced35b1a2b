package domain

import (
	"time"
)

// DefaultChatID is used when a caller does not name a chat.
const DefaultChatID = "default"

// Session is the per-session document: chats keyed by chat id plus the cart.
type Session struct {
	SessionID string               `json:"session_id"`
	Chats     map[string][]Message `json:"chat"`
	Cart      []CartItem           `json:"cart"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// ChatCount returns the number of chats held by the session.
func (s *Session) ChatCount() int {
	return len(s.Chats)
}

// IdleFor returns how long the session has gone without an update.
func (s *Session) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(s.UpdatedAt)
	if idle < 0 {
		return 0
	}
	return idle
}
