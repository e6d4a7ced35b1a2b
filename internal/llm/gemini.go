package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient adapts the Google GenAI SDK to Model.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini chat client.
// A positive timeout bounds each HTTP request made by the SDK.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, geminiConfig(apiKey, timeout))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func geminiConfig(apiKey string, timeout time.Duration) *genai.ClientConfig {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if timeout > 0 {
		cc.HTTPOptions.Timeout = &timeout
	}
	return cc
}

// Name returns the default model name.
func (c *GeminiClient) Name() string { return c.model }

// Chat sends one GenerateContent call.
func (c *GeminiClient) Chat(ctx context.Context, req Request) (*Response, error) {
	system, contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return fromGeminiResponse(resp)
}

// toGeminiContents splits out system messages and maps the rest to Gemini
// roles. Tool results travel back as function responses on the user turn.
func toGeminiContents(msgs []Message) (*genai.Content, []*genai.Content, error) {
	var (
		systemParts []*genai.Part
		contents    []*genai.Content
	)
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, &genai.Part{Text: m.Content})
		case RoleUser:
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{{Text: m.Content}}})
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						return nil, nil, fmt.Errorf("decode arguments for %s: %w", tc.Name, err)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) == 0 {
				parts = append(parts, &genai.Part{Text: ""})
			}
			contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})
		case RoleTool:
			var payload map[string]any
			if err := json.Unmarshal([]byte(m.Content), &payload); err != nil {
				payload = map[string]any{"output": m.Content}
			}
			contents = append(contents, &genai.Content{
				Role: string(genai.RoleUser),
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: payload,
				}}},
			})
		default:
			return nil, nil, fmt.Errorf("gemini: unsupported role %q", m.Role)
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return system, contents, nil
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}
	cand := resp.Candidates[0]

	msg := Message{Role: RoleAssistant}
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("encode arguments for %s: %w", part.FunctionCall.Name, err)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: args})
			continue
		}
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	msg.Content = text.String()
	return &Response{Message: msg, FinishReason: string(cand.FinishReason)}, nil
}
