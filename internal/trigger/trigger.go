// Package trigger implements the Trigger Engine of spec.md §4.1: given
// (kind, expr, timezone, after), it computes the next UTC occurrence
// for cron, rrule, once, and event schedule kinds, with timezone- and
// DST-aware arithmetic. Identical inputs always produce identical
// outputs (spec.md §8 "scheduling determinism").
package trigger

import (
	"fmt"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// InvalidExpressionError reports a syntactically or semantically
// invalid schedule_expr for its schedule_kind.
type InvalidExpressionError struct {
	Kind domain.ScheduleKind
	Expr string
	Err  error
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("trigger: invalid %s expression %q: %v", e.Kind, e.Expr, e.Err)
}
func (e *InvalidExpressionError) Unwrap() error { return e.Err }

// UnknownTimezoneError reports a timezone string that is not a valid
// IANA zone name.
type UnknownTimezoneError struct {
	TZ  string
	Err error
}

func (e *UnknownTimezoneError) Error() string {
	return fmt.Sprintf("trigger: unknown timezone %q: %v", e.TZ, e.Err)
}
func (e *UnknownTimezoneError) Unwrap() error { return e.Err }

// ValidationReport is the result of Validate: syntactic/semantic
// checks plus human-readable warnings (e.g. a Feb 29 BYMONTHDAY that
// only fires in leap years).
type ValidationReport struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Next returns the next UTC instant at or after `after` for the given
// schedule, or ok=false if there is no future occurrence (a terminal
// `once` in the past, or a `event` kind — which has no temporal next
// occurrence at all; see spec.md §4.1).
func Next(kind domain.ScheduleKind, expr, tz string, after time.Time) (time.Time, bool, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return time.Time{}, false, &UnknownTimezoneError{TZ: tz, Err: err}
	}

	switch kind {
	case domain.ScheduleCron:
		return nextCron(expr, loc, after)
	case domain.ScheduleRRule:
		return nextRRule(expr, loc, after, after)
	case domain.ScheduleOnce:
		return nextOnce(expr, after)
	case domain.ScheduleEvent:
		return time.Time{}, false, nil
	default:
		return time.Time{}, false, &InvalidExpressionError{Kind: kind, Expr: expr, Err: fmt.Errorf("unknown schedule_kind %q", kind)}
	}
}

// NextAfterDTStart behaves like Next but lets the caller supply the
// RRULE's DTSTART explicitly (it defaults to the task's created_at
// per spec.md §4.1, which the caller — not this package — knows).
func NextAfterDTStart(kind domain.ScheduleKind, expr, tz string, dtstart, after time.Time) (time.Time, bool, error) {
	if kind != domain.ScheduleRRule {
		return Next(kind, expr, tz, after)
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return time.Time{}, false, &UnknownTimezoneError{TZ: tz, Err: err}
	}
	return nextRRule(expr, loc, dtstart, after)
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		tz = "UTC"
	}
	return time.LoadLocation(tz)
}

// Validate checks a (kind, expr, tz) combination without computing an
// occurrence, surfacing both hard errors and soft warnings.
func Validate(kind domain.ScheduleKind, expr, tz string) ValidationReport {
	report := ValidationReport{Valid: true}

	if _, err := loadLocation(tz); err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, (&UnknownTimezoneError{TZ: tz, Err: err}).Error())
		return report
	}

	switch kind {
	case domain.ScheduleCron:
		if err := validateCron(expr); err != nil {
			report.Valid = false
			report.Errors = append(report.Errors, err.Error())
		}
	case domain.ScheduleRRule:
		rule, err := parseRRule(expr)
		if err != nil {
			report.Valid = false
			report.Errors = append(report.Errors, err.Error())
			return report
		}
		report.Warnings = append(report.Warnings, leapYearWarnings(rule)...)
	case domain.ScheduleOnce:
		if _, err := time.Parse(time.RFC3339, expr); err != nil {
			report.Valid = false
			report.Errors = append(report.Errors, (&InvalidExpressionError{Kind: kind, Expr: expr, Err: err}).Error())
		}
	case domain.ScheduleEvent:
		if expr == "" {
			report.Valid = false
			report.Errors = append(report.Errors, "event schedule_expr (topic pattern) must not be empty")
		}
	default:
		report.Valid = false
		report.Errors = append(report.Errors, fmt.Sprintf("unknown schedule_kind %q", kind))
	}

	return report
}

func leapYearWarnings(rule *rrule) []string {
	var warnings []string
	hasFeb := false
	for _, m := range rule.byMonth {
		if m == 2 {
			hasFeb = true
		}
	}
	for _, d := range rule.byMonthDay {
		if d == 29 && (hasFeb || len(rule.byMonth) == 0) {
			warnings = append(warnings, "BYMONTHDAY=29 combined with February only fires in leap years")
		}
	}
	return warnings
}
