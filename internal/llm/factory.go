package llm

import (
	"context"
	"fmt"
	"time"
)

// Options selects and configures a Model implementation.
type Options struct {
	Provider     string
	BaseURL      string
	APIKey       string
	GoogleAPIKey string
	Model        string
	Timeout      time.Duration
}

// New builds the Model named by opts.Provider.
func New(ctx context.Context, opts Options) (Model, error) {
	switch opts.Provider {
	case "", "openai":
		return NewOpenAI(OpenAIConfig{
			BaseURL: opts.BaseURL,
			APIKey:  opts.APIKey,
			Model:   opts.Model,
			Timeout: opts.Timeout,
		}), nil
	case "gemini":
		key := opts.GoogleAPIKey
		if key == "" {
			key = opts.APIKey
		}
		return NewGemini(ctx, key, opts.Model, opts.Timeout)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", opts.Provider)
	}
}
