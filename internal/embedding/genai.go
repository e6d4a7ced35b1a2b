package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// DefaultGenAIModel is the Gemini embedding model used when none is configured.
const DefaultGenAIModel = "gemini-embedding-001"

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIEngine creates a GenAI embedder tuned for semantic similarity.
// A positive timeout bounds each embed request.
func NewGenAIEngine(ctx context.Context, apiKey, model string, timeout time.Duration) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, errors.New("genai embedding: API key is required")
	}
	if model == "" {
		model = DefaultGenAIModel
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if timeout > 0 {
		cc.HTTPOptions.Timeout = &timeout
	}
	return newGenAIEngine(ctx, cc, model)
}

func newGenAIEngine(ctx context.Context, cc *genai.ClientConfig, model string) (*GenAIEngine, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIEngine{client: client, model: model}, nil
}

// Model returns the Gemini model name.
func (e *GenAIEngine) Model() string {
	return "genai:" + e.model
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.New("genai embed: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}
