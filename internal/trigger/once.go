package trigger

import (
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// nextOnce parses an ISO-8601 instant and returns it if it is strictly
// after `after`; otherwise "none" (spec.md §4.1, scenario S3).
func nextOnce(expr string, after time.Time) (time.Time, bool, error) {
	instant, err := time.Parse(time.RFC3339, expr)
	if err != nil {
		return time.Time{}, false, &InvalidExpressionError{Kind: domain.ScheduleOnce, Expr: expr, Err: err}
	}
	instant = instant.UTC()
	if instant.After(after) {
		return instant, true, nil
	}
	return time.Time{}, false, nil
}
