// Package runid carries a claim-cycle correlation id through a
// context.Context, generalizing the teacher's internal/requestid (an
// HTTP-request id) to the unit of work a daemon actually processes
// here: one claimed due_work row / task run.
package runid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a random run id.
func New() string {
	return uuid.NewString()
}

// With returns a copy of ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the run id from ctx, or "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
