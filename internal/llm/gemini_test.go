package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestToGeminiContents(t *testing.T) {
	t.Parallel()

	call := ToolCall{ID: "c1", Name: "web_search", Arguments: json.RawMessage(`{"query":"news"}`)}
	system, contents, err := toGeminiContents([]Message{
		System("you are helpful"),
		User("latest news"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{call}},
		ToolResult(call, "Markets rallied."),
	})
	require.NoError(t, err)
	require.NotNil(t, system)
	assert.Equal(t, "you are helpful", system.Parts[0].Text)

	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "news", contents[1].Parts[0].FunctionCall.Args["query"])

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "web_search", fr.Name)
	assert.Equal(t, "Markets rallied.", fr.Response["output"])
}

func TestToGeminiContentsRejectsUnknownRole(t *testing.T) {
	t.Parallel()

	_, _, err := toGeminiContents([]Message{{Role: "narrator", Content: "x"}})
	require.Error(t, err)
}

func TestFromGeminiResponse(t *testing.T) {
	t.Parallel()

	resp, err := fromGeminiResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{FunctionCall: &genai.FunctionCall{Name: "view_cart", Args: map[string]any{}}},
			}},
		}},
	})
	require.NoError(t, err)
	require.True(t, resp.HasToolCalls())
	assert.NotEmpty(t, resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "view_cart", resp.Message.ToolCalls[0].Name)

	resp, err = fromGeminiResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "Hello "}, {Text: "there"}}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Message.Content)

	_, err = fromGeminiResponse(&genai.GenerateContentResponse{})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiChatHonoursTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	cc := geminiConfig("test-key", 100*time.Millisecond)
	require.NotNil(t, cc.HTTPOptions.Timeout)
	cc.HTTPOptions.BaseURL = srv.URL
	client, err := genai.NewClient(context.Background(), cc)
	require.NoError(t, err)
	c := &GeminiClient{client: client, model: defaultGeminiModel}

	start := time.Now()
	_, err = c.Chat(context.Background(), Request{Messages: []Message{User("hello")}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGeminiConfigWithoutTimeout(t *testing.T) {
	t.Parallel()
	assert.Nil(t, geminiConfig("k", 0).HTTPOptions.Timeout)
}
