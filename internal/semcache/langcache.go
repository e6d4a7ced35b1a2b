package semcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LangCacheClient talks to a managed semantic cache service over REST.
// Entries carry a sessionId attribute; every call filters on it.
type LangCacheClient struct {
	baseURL    string
	cacheID    string
	apiKey     string
	threshold  float64
	httpClient *http.Client
}

// NewLangCacheClient creates a LangCache REST client.
func NewLangCacheClient(baseURL, cacheID, apiKey string, threshold float64) *LangCacheClient {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &LangCacheClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cacheID:    cacheID,
		apiKey:     apiKey,
		threshold:  threshold,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type lcAttributes struct {
	SessionID string `json:"sessionId"`
}

type lcSearchRequest struct {
	Prompt              string       `json:"prompt"`
	SimilarityThreshold float64      `json:"similarityThreshold"`
	Attributes          lcAttributes `json:"attributes"`
}

type lcSearchResponse struct {
	Data []struct {
		ID         string  `json:"id"`
		Prompt     string  `json:"prompt"`
		Response   string  `json:"response"`
		Similarity float64 `json:"similarity"`
	} `json:"data"`
}

type lcSetRequest struct {
	Prompt     string       `json:"prompt"`
	Response   string       `json:"response"`
	Attributes lcAttributes `json:"attributes"`
	TTLMillis  int64        `json:"ttlMillis"`
}

type lcDeleteRequest struct {
	Attributes lcAttributes `json:"attributes"`
}

type lcDeleteResponse struct {
	DeletedEntriesCount int64 `json:"deletedEntriesCount"`
}

// Find implements Cache.
func (c *LangCacheClient) Find(ctx context.Context, sessionID, query string) (Hit, bool, error) {
	var resp lcSearchResponse
	err := c.do(ctx, http.MethodPost, "/entries/search", lcSearchRequest{
		Prompt:              query,
		SimilarityThreshold: c.threshold,
		Attributes:          lcAttributes{SessionID: sessionID},
	}, &resp)
	if err != nil {
		return Hit{}, false, err
	}
	for _, d := range resp.Data {
		if d.Response == "" {
			continue
		}
		return Hit{ID: d.ID, Prompt: d.Prompt, Response: d.Response, Similarity: d.Similarity}, true, nil
	}
	return Hit{}, false, nil
}

// Save implements Cache.
func (c *LangCacheClient) Save(ctx context.Context, e Entry) error {
	if e.SessionID == "" {
		return errors.New("semcache: session id is required")
	}
	return c.do(ctx, http.MethodPost, "/entries", lcSetRequest{
		Prompt:     e.Prompt,
		Response:   e.Response,
		Attributes: lcAttributes{SessionID: e.SessionID},
		TTLMillis:  e.TTL.Milliseconds(),
	}, nil)
}

// ClearSession implements Cache.
func (c *LangCacheClient) ClearSession(ctx context.Context, sessionID string) (int64, error) {
	var resp lcDeleteResponse
	if err := c.do(ctx, http.MethodDelete, "/entries", lcDeleteRequest{
		Attributes: lcAttributes{SessionID: sessionID},
	}, &resp); err != nil {
		return 0, err
	}
	return resp.DeletedEntriesCount, nil
}

func (c *LangCacheClient) do(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal langcache request: %w", err)
	}

	endpoint := c.baseURL + "/v1/caches/" + url.PathEscape(c.cacheID) + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build langcache request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read langcache response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: langcache %s %s: status %d: %s", ErrUnavailable, method, path, resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode langcache response: %w", err)
	}
	return nil
}

var _ Cache = (*LangCacheClient)(nil)
