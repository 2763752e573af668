// Package invoker defines the pluggable Tool Invoker interface
// (spec.md §6.6) and its two implementations: Simulating (the core's
// default, runnable standalone) and HTTP (real callback execution).
package invoker

import (
	"context"
	"time"

	"github.com/ordinaut/ordinaut/internal/value"
)

// InvocationError wraps a tool invocation failure. Retryable
// indicates whether the worker runtime should classify the failure
// as KindRetryable (timeouts, transient I/O) or KindPermanent
// (everything else — spec.md §7).
type InvocationError struct {
	Address   string
	Retryable bool
	Cause     error
}

func (e *InvocationError) Error() string {
	return "invoker: " + e.Address + ": " + e.Cause.Error()
}
func (e *InvocationError) Unwrap() error { return e.Cause }

// Invoker executes one pipeline step's tool call.
type Invoker interface {
	Invoke(ctx context.Context, address string, args value.Value, timeout time.Duration) (value.Value, error)
}
