// Package llm defines the chat-model port used by the agent and its adapters.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Message roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrEmptyResponse is returned when the provider answers without any choice.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one entry of a model conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec advertises a tool to the model. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a single model invocation.
type Request struct {
	Messages    []Message
	Tools       []ToolSpec
	Temperature *float64
	// JSON asks the provider for a JSON object response.
	JSON bool
	// Model overrides the client's default model when set.
	Model string
}

// Response is the model's reply. A reply either carries ToolCalls or final Content.
type Response struct {
	Message      Message
	FinishReason string
}

// HasToolCalls reports whether the model asked for tool execution.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}

// Model is a chat-completion provider.
type Model interface {
	Chat(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ToolResult builds the message that returns a tool's output to the model.
func ToolResult(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }
