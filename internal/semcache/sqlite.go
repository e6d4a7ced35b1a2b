package semcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/smartrecall/internal/embedding"
	"github.com/google/uuid"
)

// SQLiteCache stores prompt embeddings in SQLite and ranks candidates by
// cosine similarity in process. Lookups only scan one session's rows.
type SQLiteCache struct {
	db        *sql.DB
	embedder  embedding.Embedder
	threshold float64
	now       func() time.Time
}

// SQLiteOption configures a SQLiteCache.
type SQLiteOption func(*SQLiteCache)

// WithThreshold overrides the similarity threshold.
func WithThreshold(th float64) SQLiteOption {
	return func(c *SQLiteCache) {
		if th > 0 && th <= 1 {
			c.threshold = th
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SQLiteOption {
	return func(c *SQLiteCache) { c.now = now }
}

// NewSQLite creates the cache schema on db and returns the cache.
func NewSQLite(db *sql.DB, emb embedding.Embedder, opts ...SQLiteOption) (*SQLiteCache, error) {
	c := &SQLiteCache{
		db:        db,
		embedder:  emb,
		threshold: DefaultThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return c, nil
}

func (c *SQLiteCache) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt TEXT NOT NULL,
		embedding BLOB NOT NULL,
		response TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		ttl_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_session ON cache_entries(session_id, expires_at);
	CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
	`
	if _, err := c.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Threshold returns the active similarity threshold.
func (c *SQLiteCache) Threshold() float64 {
	return c.threshold
}

// Find implements Cache.
func (c *SQLiteCache) Find(ctx context.Context, sessionID, query string) (Hit, bool, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return Hit{}, false, fmt.Errorf("%w: embed query: %v", ErrUnavailable, err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, prompt, embedding, response, created_at
		FROM cache_entries
		WHERE session_id = ? AND model = ? AND expires_at > ?`,
		sessionID, c.embedder.Model(), c.now().UnixMilli())
	if err != nil {
		return Hit{}, false, fmt.Errorf("query cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var best Hit
	found := false
	for rows.Next() {
		var (
			h         Hit
			blob      []byte
			createdAt int64
		)
		if err := rows.Scan(&h.ID, &h.Prompt, &blob, &h.Response, &createdAt); err != nil {
			return Hit{}, false, fmt.Errorf("scan cache entry: %w", err)
		}
		h.Similarity = embedding.CosineSimilarity(vec, embedding.BytesToFloat32(blob))
		if h.Similarity < c.threshold {
			continue
		}
		if !found || h.Similarity > best.Similarity {
			h.CreatedAt = time.UnixMilli(createdAt)
			best = h
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return Hit{}, false, fmt.Errorf("iterate cache entries: %w", err)
	}
	return best, found, nil
}

// Save implements Cache.
func (c *SQLiteCache) Save(ctx context.Context, e Entry) error {
	if e.SessionID == "" {
		return errors.New("semcache: session id is required")
	}
	if e.TTL <= 0 {
		return fmt.Errorf("semcache: non-positive ttl %s", e.TTL)
	}

	vec, err := c.embedder.Embed(ctx, e.Prompt)
	if err != nil {
		return fmt.Errorf("%w: embed prompt: %v", ErrUnavailable, err)
	}

	now := c.now()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (id, session_id, model, prompt, embedding, response, topic, ttl_ms, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), e.SessionID, c.embedder.Model(), e.Prompt,
		embedding.Float32ToBytes(vec), e.Response, e.Topic,
		e.TTL.Milliseconds(), now.UnixMilli(), now.Add(e.TTL).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// ClearSession implements Cache.
func (c *SQLiteCache) ClearSession(ctx context.Context, sessionID string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("clear session cache: %w", err)
	}
	return res.RowsAffected()
}

// Sweep deletes expired entries.
func (c *SQLiteCache) Sweep(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping verifies the backing database.
func (c *SQLiteCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

var (
	_ Cache   = (*SQLiteCache)(nil)
	_ Sweeper = (*SQLiteCache)(nil)
)
