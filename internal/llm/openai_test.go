package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChatToolCalls(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"weather in Paris\"}"}}]}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "test-model"})
	resp, err := c.Chat(context.Background(), Request{
		Messages: []Message{System("be brief"), User("weather in Paris")},
		Tools: []ToolSpec{{
			Name:        "web_search",
			Description: "search",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	require.True(t, resp.HasToolCalls())
	assert.Equal(t, "web_search", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"weather in Paris"}`, string(resp.Message.ToolCalls[0].Arguments))

	assert.Equal(t, "test-model", captured["model"])
	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "web_search", fn["name"])
}

func TestOpenAIChatContentAndJSONMode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.NotNil(t, req.ResponseFormat) {
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
		}
		assert.Equal(t, "override", req.Model)
		_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"{\"ok\":true}"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIConfig{BaseURL: srv.URL})
	resp, err := c.Chat(context.Background(), Request{Messages: []Message{User("x")}, JSON: true, Model: "override"})
	require.NoError(t, err)
	assert.False(t, resp.HasToolCalls())
	assert.Equal(t, `{"ok":true}`, resp.Message.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOpenAIChatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "status", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "bad json", status: http.StatusOK, body: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL}).Chat(context.Background(), Request{Messages: []Message{User("x")}})
			require.Error(t, err)
		})
	}
}

func TestToOpenAIMessageToolRoundTrip(t *testing.T) {
	t.Parallel()

	call := ToolCall{ID: "c1", Name: "view_cart", Arguments: json.RawMessage(`{}`)}
	assistant := toOpenAIMessage(Message{Role: RoleAssistant, ToolCalls: []ToolCall{call}})
	assert.Nil(t, assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "function", assistant.ToolCalls[0].Type)

	result := toOpenAIMessage(ToolResult(call, `{"items":[]}`))
	assert.Equal(t, "c1", result.ToolCallID)
	assert.Equal(t, "view_cart", result.Name)
}
