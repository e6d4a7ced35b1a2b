// Package health reports component health over HTTP and gRPC.
package health

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCheckTimeout indicates a health check did not finish in time.
	ErrCheckTimeout = errors.New("health: check timeout")
	// ErrCheckerNotFound indicates a checker was not registered.
	ErrCheckerNotFound = errors.New("health: checker not found")
)

// Status represents the health status of a component.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result contains the outcome of a health check.
type Result struct {
	Status    Status
	Message   string
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err, Timestamp: time.Now()}
}

// Checker is the interface for health checks.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a new CheckerFunc.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (f *CheckerFunc) Name() string                     { return f.name }
func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }

// PingChecker turns a ping function into a Checker. A failing ping is
// unhealthy when critical and degraded otherwise.
func PingChecker(name string, critical bool, ping func(context.Context) error) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			if critical {
				return Unhealthy("ping failed", err)
			}
			r := Degraded("ping failed")
			r.Error = err
			return r
		}
		return Healthy("ok")
	})
}
