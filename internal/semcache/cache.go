// Package semcache implements a session-scoped semantic response cache.
package semcache

import (
	"context"
	"errors"
	"time"
)

// DefaultThreshold is the minimum similarity for a cache hit.
const DefaultThreshold = 0.9

// ErrUnavailable wraps failures of the backing cache service.
var ErrUnavailable = errors.New("semcache: backend unavailable")

// Entry is a response to be cached for a session.
type Entry struct {
	SessionID string
	Prompt    string
	Response  string
	Topic     string
	TTL       time.Duration
}

// Hit is a cache lookup result.
type Hit struct {
	ID         string
	Prompt     string
	Response   string
	Similarity float64
	CreatedAt  time.Time
}

// Cache is a similarity-indexed response cache.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Isolation: Find never returns an entry saved under another session id.
// - Expiry: entries older than their TTL are never returned.
// - ClearSession is idempotent; clearing an empty session returns 0, nil.
type Cache interface {
	// Find returns the most similar unexpired entry of the session when its
	// similarity is at or above the threshold. ok is false on a miss.
	Find(ctx context.Context, sessionID, query string) (hit Hit, ok bool, err error)

	// Save stores a response for later lookups by the same session.
	Save(ctx context.Context, entry Entry) error

	// ClearSession deletes every entry of the session and returns how many were removed.
	ClearSession(ctx context.Context, sessionID string) (int64, error)
}

// Sweeper is implemented by backends that need expired entries purged.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Disabled is a Cache that never hits and stores nothing.
type Disabled struct{}

// Find always misses.
func (Disabled) Find(context.Context, string, string) (Hit, bool, error) { return Hit{}, false, nil }

// Save discards the entry.
func (Disabled) Save(context.Context, Entry) error { return nil }

// ClearSession removes nothing.
func (Disabled) ClearSession(context.Context, string) (int64, error) { return 0, nil }

var _ Cache = Disabled{}
