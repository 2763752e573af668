package trigger

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// nextCron parses a standard 5-field cron expression and returns the
// smallest instant ≥ after matching all fields, interpreted in loc —
// grounded on the teacher's scheduler.Dispatcher.computeNext, which
// uses the same robfig/cron/v3 parser and "advance past stale next"
// loop.
func nextCron(expr string, loc *time.Location, after time.Time) (time.Time, bool, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, false, &InvalidExpressionError{Kind: domain.ScheduleCron, Expr: expr, Err: err}
	}

	// robfig/cron computes fields using the location carried by the
	// time it's given, so localize `after` before asking for Next.
	// robfig's Next is strictly later than its argument, so step back
	// one nanosecond to include `after` itself.
	localAfter := after.In(loc)
	next := sched.Next(localAfter.Add(-time.Nanosecond))
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next.UTC(), true, nil
}

func validateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return &InvalidExpressionError{Kind: domain.ScheduleCron, Expr: expr, Err: err}
	}
	return nil
}
