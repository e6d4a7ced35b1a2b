// Package domain contains core domain types for the SmartRecall service.
package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is a single entry of a chat transcript. Messages are immutable once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// UserMessage builds a user message stamped with the current time.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// AssistantMessage builds an assistant message stamped with the current time.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, CreatedAt: time.Now()}
}
