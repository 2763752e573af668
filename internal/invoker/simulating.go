package invoker

import (
	"context"
	"time"

	"github.com/ordinaut/ordinaut/internal/value"
)

// Simulating is the default Invoker (spec.md §6.6): it makes the core
// independently runnable and testable without a real tool registry. It
// returns {ok:true, tool:address, input:args, simulated:true} after a
// small deterministic delay.
type Simulating struct {
	// Delay is the simulated invocation latency. Zero uses a small
	// fixed default so tests stay fast but still exercise the
	// cancellation path.
	Delay time.Duration
}

func NewSimulating() *Simulating {
	return &Simulating{Delay: 5 * time.Millisecond}
}

func (s *Simulating) Invoke(ctx context.Context, address string, args value.Value, timeout time.Duration) (value.Value, error) {
	delay := s.Delay
	if delay <= 0 {
		delay = 5 * time.Millisecond
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return value.Null(), &InvocationError{Address: address, Retryable: true, Cause: ctx.Err()}
	case <-timer.C:
	}

	return value.Object(map[string]value.Value{
		"ok":        value.Bool(true),
		"tool":      value.Str(address),
		"input":     args,
		"simulated": value.Bool(true),
	}), nil
}
