// Package search provides the web search backend used by the web_search tool.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://api.tavily.com"
	defaultMaxResults = 3
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("search: API key not configured")

// Result is one hit of a search response.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is a search API response.
type Response struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) (*Response, error)
}

// Config configures a TavilyClient.
type Config struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	Timeout    time.Duration
}

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	baseURL    string
	apiKey     string
	maxResults int
	httpClient *http.Client
}

// NewTavily creates a Tavily client.
func NewTavily(cfg Config) *TavilyClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &TavilyClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type tavilyRequest struct {
	Query         string `json:"query"`
	Topic         string `json:"topic"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

// Search performs a general-topic search.
func (c *TavilyClient) Search(ctx context.Context, query string) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	payload, err := json.Marshal(tavilyRequest{
		Query:         query,
		Topic:         "general",
		MaxResults:    c.maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}

// Summarize reduces a response to one line of text for the model.
func Summarize(resp *Response) string {
	if resp == nil {
		return "No response available."
	}
	if answer := strings.TrimSpace(resp.Answer); answer != "" {
		return answer
	}
	if len(resp.Results) > 0 {
		first := resp.Results[0]
		sep := ""
		if first.Title != "" && first.Content != "" {
			sep = " - "
		}
		if s := strings.TrimSpace(first.Title + sep + first.Content); s != "" {
			return s
		}
		return "Result found, but no content."
	}
	return "No relevant results found."
}
