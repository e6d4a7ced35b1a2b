package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CachedEmbedder memoises embeddings by content hash and collapses
// concurrent requests for the same text into one upstream call.
type CachedEmbedder struct {
	inner   Embedder
	maxSize int

	group singleflight.Group

	mu    sync.Mutex
	lru   *list.List
	items map[string]*list.Element
}

type cachedVector struct {
	key string
	vec []float32
}

// NewCachedEmbedder wraps inner with an LRU of maxSize entries.
func NewCachedEmbedder(inner Embedder, maxSize int) *CachedEmbedder {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: maxSize,
		lru:     list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Model returns the wrapped model name.
func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

// Embed returns a cached vector or computes one.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(c.inner.Model(), text)

	if vec, ok := c.get(key); ok {
		return vec, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.put(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *CachedEmbedder) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*cachedVector).vec, true
}

func (c *CachedEmbedder) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.lru.MoveToFront(el)
		return
	}
	c.items[key] = c.lru.PushFront(&cachedVector{key: key, vec: vec})
	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*cachedVector).key)
	}
}

func contentHash(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}
