// Package sweeper expires idle sessions and purges stale cache entries in the background.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/smartrecall/internal/semcache"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultIdleTTL  = 24 * time.Hour
)

// SessionExpirer deletes sessions idle for longer than ttl and returns their ids.
type SessionExpirer interface {
	ExpireIdleSessions(ctx context.Context, ttl time.Duration) ([]string, error)
}

// Config tunes a Worker.
type Config struct {
	Interval time.Duration
	// IdleTTL is how long a session may go without a turn. Zero keeps sessions forever.
	IdleTTL time.Duration
	// OnExpire is called for each expired session after its cache entries are cleared.
	OnExpire func(sessionID string)
}

// Report summarizes one sweep.
type Report struct {
	ExpiredSessions []string
	ClearedEntries  int64
	SweptEntries    int64
}

// Worker periodically removes idle sessions with their cache entries and
// purges expired entries from caches that need it.
type Worker struct {
	sessions SessionExpirer
	cache    semcache.Cache
	cfg      Config
}

// New creates a Worker. cache may be nil.
func New(sessions SessionExpirer, cache semcache.Cache, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cache == nil {
		cache = semcache.Disabled{}
	}
	return &Worker{sessions: sessions, cache: cache, cfg: cfg}
}

// Run sweeps every interval until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	slog.Info("Session sweeper started", "interval", w.cfg.Interval, "idle_ttl", w.cfg.IdleTTL)

	for {
		select {
		case <-ticker.C:
			w.SweepOnce(ctx)
		case <-ctx.Done():
			slog.Info("Session sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}

// SweepOnce runs a single pass. Failures are logged and the pass continues.
func (w *Worker) SweepOnce(ctx context.Context) Report {
	var rep Report

	if w.sessions != nil && w.cfg.IdleTTL > 0 {
		expired, err := w.sessions.ExpireIdleSessions(ctx, w.cfg.IdleTTL)
		if err != nil {
			slog.Error("Sweeper failed to expire idle sessions", "error", err)
		}
		rep.ExpiredSessions = expired
		for _, id := range expired {
			n, err := w.cache.ClearSession(ctx, id)
			if err != nil {
				slog.Warn("Sweeper failed to clear cache for expired session", "session_id", id, "error", err)
			}
			rep.ClearedEntries += n
			if w.cfg.OnExpire != nil {
				w.cfg.OnExpire(id)
			}
		}
	}

	if sw, ok := w.cache.(semcache.Sweeper); ok {
		n, err := sw.Sweep(ctx)
		if err != nil {
			slog.Error("Sweeper failed to purge expired cache entries", "error", err)
		}
		rep.SweptEntries = n
	}

	if len(rep.ExpiredSessions) > 0 || rep.SweptEntries > 0 {
		slog.Info("Sweep completed",
			"expired_sessions", len(rep.ExpiredSessions),
			"cleared_cache_entries", rep.ClearedEntries,
			"swept_cache_entries", rep.SweptEntries,
		)
	}
	return rep
}
