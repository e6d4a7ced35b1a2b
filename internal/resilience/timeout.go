package resilience

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout applies when a Timeout is built with a non-positive duration.
const DefaultTimeout = 10 * time.Second

// Timeout bounds the duration of an operation.
type Timeout struct {
	d time.Duration
}

// NewTimeout creates a timeout wrapper.
func NewTimeout(d time.Duration) *Timeout {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &Timeout{d: d}
}

// Duration returns the configured bound.
func (t *Timeout) Duration() time.Duration {
	return t.d
}

// Execute runs op with a derived deadline. The operation keeps running in
// its goroutine after a timeout until it observes ctx cancellation.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Do is a generic helper that runs fn under a timeout and returns its value.
func Do[T any](ctx context.Context, t *Timeout, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	err := t.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	r := <-ch
	return r.v, nil
}
