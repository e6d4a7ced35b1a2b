package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records agent activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: recording is best-effort and must not panic.
type Metrics interface {
	// CacheLookup records a semantic cache lookup.
	CacheLookup(ctx context.Context, profile string, hit bool, err error)
	// CacheSave records a cache write for topic.
	CacheSave(ctx context.Context, profile, topic string, err error)
	// ToolCall records one tool invocation.
	ToolCall(ctx context.Context, tool string, d time.Duration, err error)
	// Turn records a completed turn; outcome is cache_hit, agent or fallback.
	Turn(ctx context.Context, profile, outcome string, d time.Duration)
}

type otelMetrics struct {
	cacheLookups metric.Int64Counter
	cacheSaves   metric.Int64Counter
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter
	toolDuration metric.Float64Histogram
	turns        metric.Int64Counter
	turnDuration metric.Float64Histogram
}

// NewMetrics creates the agent instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &otelMetrics{}
	var err error
	if m.cacheLookups, err = meter.Int64Counter("smartrecall.cache.lookups",
		metric.WithDescription("Semantic cache lookups by result"),
		metric.WithUnit("{lookup}")); err != nil {
		return nil, err
	}
	if m.cacheSaves, err = meter.Int64Counter("smartrecall.cache.saves",
		metric.WithDescription("Semantic cache writes by topic"),
		metric.WithUnit("{entry}")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("smartrecall.tool.calls",
		metric.WithDescription("Tool invocations"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}
	if m.toolErrors, err = meter.Int64Counter("smartrecall.tool.errors",
		metric.WithDescription("Tool invocations that returned an error result"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if m.toolDuration, err = meter.Float64Histogram("smartrecall.tool.duration_ms",
		metric.WithDescription("Tool invocation duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.turns, err = meter.Int64Counter("smartrecall.turns",
		metric.WithDescription("Completed turns by outcome"),
		metric.WithUnit("{turn}")); err != nil {
		return nil, err
	}
	if m.turnDuration, err = meter.Float64Histogram("smartrecall.turn.duration_ms",
		metric.WithDescription("Turn duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) CacheLookup(ctx context.Context, profile string, hit bool, err error) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case hit:
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("result", result),
	))
}

func (m *otelMetrics) CacheSave(ctx context.Context, profile, topic string, err error) {
	m.cacheSaves.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("topic", topic),
		attribute.Bool("error", err != nil),
	))
}

func (m *otelMetrics) ToolCall(ctx context.Context, tool string, d time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("tool", tool))
	m.toolCalls.Add(ctx, 1, opt)
	if err != nil {
		m.toolErrors.Add(ctx, 1, opt)
	}
	m.toolDuration.Record(ctx, float64(d.Milliseconds()), opt)
}

func (m *otelMetrics) Turn(ctx context.Context, profile, outcome string, d time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("outcome", outcome),
	)
	m.turns.Add(ctx, 1, opt)
	m.turnDuration.Record(ctx, float64(d.Milliseconds()), opt)
}

type noopMetrics struct{}

// NoopMetrics returns a Metrics that discards everything.
func NoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) CacheLookup(context.Context, string, bool, error)       {}
func (noopMetrics) CacheSave(context.Context, string, string, error)       {}
func (noopMetrics) ToolCall(context.Context, string, time.Duration, error) {}
func (noopMetrics) Turn(context.Context, string, string, time.Duration)    {}
