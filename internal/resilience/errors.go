// Package resilience provides timeout and retry wrappers for calls to
// external collaborators.
package resilience

import "errors"

// ErrTimeout is returned when an operation exceeds its deadline.
var ErrTimeout = errors.New("resilience: operation timed out")
