package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 5s
	MaxDelay time.Duration

	// Jitter adds up to 20% random spread to each delay.
	Jitter bool

	// RetryIf decides if an error is retryable. Default: every non-nil error.
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry runs an operation with exponential backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a retry handler, applying defaults.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}
	return &Retry{config: config}
}

// Execute runs op until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx is done.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.RetryIf(err) || attempt >= r.config.MaxAttempts {
			return err
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (r *Retry) delay(attempt int) time.Duration {
	d := time.Duration(float64(r.config.InitialDelay) * math.Pow(2, float64(attempt-1)))
	if d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	if r.config.Jitter {
		spread := float64(d) * 0.2
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	return d
}
