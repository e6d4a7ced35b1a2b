package embedding

import (
	"context"
	"fmt"
	"time"
)

// Options selects and configures an embedding provider.
type Options struct {
	Provider     string // lexical|ollama|genai
	Model        string
	OllamaURL    string
	GoogleAPIKey string
	CacheSize    int
	Timeout      time.Duration
}

// New builds the configured embedder wrapped in a CachedEmbedder.
func New(ctx context.Context, opts Options) (Embedder, error) {
	var inner Embedder
	switch opts.Provider {
	case "", "lexical":
		inner = NewLexicalEmbedder(DefaultLexicalDims)
	case "ollama":
		inner = NewOllamaClient(opts.OllamaURL, opts.Model)
	case "genai":
		eng, err := NewGenAIEngine(ctx, opts.GoogleAPIKey, opts.Model, opts.Timeout)
		if err != nil {
			return nil, err
		}
		inner = eng
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
	return NewCachedEmbedder(inner, opts.CacheSize), nil
}
