package trigger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// rrule is the parsed subset of RFC-5545 required by spec.md §4.1:
// FREQ, INTERVAL, BYDAY, BYMONTHDAY, BYMONTH, BYHOUR, BYMINUTE,
// BYSECOND, BYSETPOS, COUNT, UNTIL.
type rrule struct {
	freq       string // DAILY, WEEKLY, MONTHLY, YEARLY
	interval   int
	byDay      []weekdayOcc
	byMonthDay []int
	byMonth    []int
	byHour     []int
	byMinute   []int
	bySecond   []int
	bySetPos   []int
	count      int        // 0 = unbounded
	until      *time.Time // UTC, inclusive
}

type weekdayOcc struct {
	ordinal int // 0 means "every occurrence in the period"
	day     time.Weekday
}

var weekdayNames = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday, "WE": time.Wednesday,
	"TH": time.Thursday, "FR": time.Friday, "SA": time.Saturday,
}

func parseRRule(expr string) (*rrule, error) {
	r := &rrule{interval: 1}
	for _, part := range strings.Split(expr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, &InvalidExpressionError{Kind: domain.ScheduleRRule, Expr: expr, Err: fmt.Errorf("malformed component %q", part)}
		}
		key, val := strings.ToUpper(kv[0]), kv[1]

		var err error
		switch key {
		case "FREQ":
			r.freq = strings.ToUpper(val)
		case "INTERVAL":
			r.interval, err = strconv.Atoi(val)
		case "COUNT":
			r.count, err = strconv.Atoi(val)
		case "UNTIL":
			var t time.Time
			t, err = parseUntil(val)
			if err == nil {
				r.until = &t
			}
		case "BYDAY":
			r.byDay, err = parseByDay(val)
		case "BYMONTHDAY":
			r.byMonthDay, err = parseIntList(val)
		case "BYMONTH":
			r.byMonth, err = parseIntList(val)
		case "BYHOUR":
			r.byHour, err = parseIntList(val)
		case "BYMINUTE":
			r.byMinute, err = parseIntList(val)
		case "BYSECOND":
			r.bySecond, err = parseIntList(val)
		case "BYSETPOS":
			r.bySetPos, err = parseIntList(val)
		default:
			// Unsupported components are ignored rather than rejected,
			// matching the "minimum" field set spec.md requires.
		}
		if err != nil {
			return nil, &InvalidExpressionError{Kind: domain.ScheduleRRule, Expr: expr, Err: err}
		}
	}

	switch r.freq {
	case "DAILY", "WEEKLY", "MONTHLY", "YEARLY":
	default:
		return nil, &InvalidExpressionError{Kind: domain.ScheduleRRule, Expr: expr, Err: fmt.Errorf("unsupported or missing FREQ %q", r.freq)}
	}
	if r.interval <= 0 {
		return nil, &InvalidExpressionError{Kind: domain.ScheduleRRule, Expr: expr, Err: fmt.Errorf("INTERVAL must be positive")}
	}
	return r, nil
}

func parseUntil(s string) (time.Time, error) {
	if t, err := time.Parse("20060102T150405Z", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid UNTIL value %q", s)
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, tok := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", tok)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseByDay(s string) ([]weekdayOcc, error) {
	var out []weekdayOcc
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		i := 0
		for i < len(tok) && (tok[i] == '+' || tok[i] == '-' || (tok[i] >= '0' && tok[i] <= '9')) {
			i++
		}
		ordPart, dayPart := tok[:i], tok[i:]
		wd, ok := weekdayNames[strings.ToUpper(dayPart)]
		if !ok {
			return nil, fmt.Errorf("invalid BYDAY weekday %q", tok)
		}
		ord := 0
		if ordPart != "" {
			n, err := strconv.Atoi(ordPart)
			if err != nil {
				return nil, fmt.Errorf("invalid BYDAY ordinal %q", tok)
			}
			ord = n
		}
		out = append(out, weekdayOcc{ordinal: ord, day: wd})
	}
	return out, nil
}

const maxRRulePeriods = 20000

// nextRRule computes the next occurrence ≥ after for the rule in expr,
// anchored at dtstart and interpreted in loc. Spring-forward gaps
// advance to the next valid instant; fall-back ambiguity resolves to
// the first (standard-time) occurrence — both handled by localDate's
// use of time.Date, which Go itself normalizes forward through a
// nonexistent wall-clock time, and by always picking the first
// constructed instant for an ambiguous one.
func nextRRule(expr string, loc *time.Location, dtstart, after time.Time) (time.Time, bool, error) {
	rule, err := parseRRule(expr)
	if err != nil {
		return time.Time{}, false, err
	}

	dtstartLocal := dtstart.In(loc)
	afterLocal := after.In(loc)

	if rule.count > 0 {
		return nextWithCount(rule, loc, dtstartLocal, afterLocal)
	}
	return nextByScan(rule, loc, dtstartLocal, afterLocal)
}

func nextWithCount(rule *rrule, loc *time.Location, dtstart, after time.Time) (time.Time, bool, error) {
	idx := 0
	period := periodAnchor(dtstart, rule.freq)
	for p := 0; p < maxRRulePeriods; p++ {
		cands := expandPeriod(period, rule, dtstart, loc)
		for _, c := range cands {
			if rule.until != nil && c.After(rule.until.In(loc)) {
				return time.Time{}, false, nil
			}
			idx++
			if idx > rule.count {
				return time.Time{}, false, nil
			}
			if !c.Before(after) {
				return c.UTC(), true, nil
			}
		}
		period = advancePeriod(period, rule.freq, rule.interval)
	}
	return time.Time{}, false, nil
}

func nextByScan(rule *rrule, loc *time.Location, dtstart, after time.Time) (time.Time, bool, error) {
	period := approxPeriodNear(dtstart, after, rule.freq, rule.interval)
	for p := 0; p < maxRRulePeriods; p++ {
		if rule.until != nil && period.After(rule.until.In(loc)) {
			return time.Time{}, false, nil
		}
		cands := expandPeriod(period, rule, dtstart, loc)
		for _, c := range cands {
			if rule.until != nil && c.After(rule.until.In(loc)) {
				continue
			}
			if c.Before(dtstart) {
				continue
			}
			if !c.Before(after) {
				return c.UTC(), true, nil
			}
		}
		period = advancePeriod(period, rule.freq, rule.interval)
	}
	return time.Time{}, false, nil
}

// periodAnchor normalizes t down to the start of its FREQ bucket
// (first-of-month for MONTHLY/YEARLY, midnight for DAILY/WEEKLY).
func periodAnchor(t time.Time, freq string) time.Time {
	loc := t.Location()
	switch freq {
	case "YEARLY":
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, loc)
	case "MONTHLY":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case "WEEKLY":
		offset := int(t.Weekday())
		return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, loc)
	default: // DAILY
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

func advancePeriod(period time.Time, freq string, interval int) time.Time {
	switch freq {
	case "YEARLY":
		return period.AddDate(interval, 0, 0)
	case "MONTHLY":
		return period.AddDate(0, interval, 0)
	case "WEEKLY":
		return period.AddDate(0, 0, 7*interval)
	default: // DAILY
		return period.AddDate(0, 0, interval)
	}
}

// approxPeriodNear jumps close to `after` without walking every period
// from dtstart — safe because it is only used when COUNT is unset, so
// no occurrence index needs to be tracked.
func approxPeriodNear(dtstart, after time.Time, freq string, interval int) time.Time {
	anchor := periodAnchor(dtstart, freq)
	if !after.After(anchor) {
		return anchor
	}
	var elapsedUnits int
	switch freq {
	case "YEARLY":
		elapsedUnits = after.Year() - anchor.Year()
	case "MONTHLY":
		elapsedUnits = (after.Year()-anchor.Year())*12 + int(after.Month()) - int(anchor.Month())
	case "WEEKLY":
		elapsedUnits = int(after.Sub(anchor).Hours() / (24 * 7))
	default: // DAILY
		elapsedUnits = int(after.Sub(anchor).Hours() / 24)
	}
	periodsElapsed := elapsedUnits / interval
	// Step back two full intervals as a safety margin for boundary effects.
	back := periodsElapsed - 2
	if back < 0 {
		back = 0
	}
	result := anchor
	for i := 0; i < back; i++ {
		result = advancePeriod(result, freq, interval)
	}
	return result
}

// expandPeriod generates every candidate instant within the FREQ
// bucket starting at period, applying BYMONTH/BYMONTHDAY/BYDAY day
// selection and BYHOUR/BYMINUTE/BYSECOND time-of-day selection, then
// BYSETPOS. Candidates are sorted ascending.
func expandPeriod(period time.Time, rule *rrule, dtstart time.Time, loc *time.Location) []time.Time {
	days := expandDays(period, rule, dtstart, loc)

	hours := rule.byHour
	if len(hours) == 0 {
		hours = []int{dtstart.Hour()}
	}
	minutes := rule.byMinute
	if len(minutes) == 0 {
		minutes = []int{dtstart.Minute()}
	}
	seconds := rule.bySecond
	if len(seconds) == 0 {
		seconds = []int{dtstart.Second()}
	}

	var out []time.Time
	for _, d := range days {
		for _, h := range hours {
			for _, m := range minutes {
				for _, s := range seconds {
					out = append(out, time.Date(d.Year(), d.Month(), d.Day(), h, m, s, 0, loc))
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	if len(rule.bySetPos) > 0 {
		out = applySetPos(out, rule.bySetPos)
	}
	return out
}

// expandDays returns the calendar days (truncated to midnight) within
// the period that satisfy BYMONTH/BYMONTHDAY/BYDAY: the period's own
// day for DAILY, and for WEEKLY with no BYDAY filter the one day of the
// week that shares DTSTART's weekday.
func expandDays(period time.Time, rule *rrule, dtstart time.Time, loc *time.Location) []time.Time {
	switch rule.freq {
	case "DAILY":
		return []time.Time{period}
	case "WEEKLY":
		var days []time.Time
		for i := 0; i < 7; i++ {
			d := period.AddDate(0, 0, i)
			if (len(rule.byDay) == 0 && d.Weekday() == dtstart.In(loc).Weekday()) || (len(rule.byDay) > 0 && matchesByDay(d, rule.byDay, 0)) {
				days = append(days, d)
			}
		}
		return days
	case "MONTHLY":
		return expandMonthDays(period, rule)
	case "YEARLY":
		var days []time.Time
		months := rule.byMonth
		if len(months) == 0 {
			months = []int{int(period.Month())}
		}
		for _, mo := range months {
			monthStart := time.Date(period.Year(), time.Month(mo), 1, 0, 0, 0, 0, loc)
			days = append(days, expandMonthDays(monthStart, rule)...)
		}
		return days
	}
	return nil
}

func expandMonthDays(monthStart time.Time, rule *rrule) []time.Time {
	loc := monthStart.Location()
	daysInMonth := time.Date(monthStart.Year(), monthStart.Month()+1, 0, 0, 0, 0, 0, loc).Day()

	var candidates []time.Time
	switch {
	case len(rule.byMonthDay) > 0:
		for _, dom := range rule.byMonthDay {
			day := dom
			if day < 0 {
				day = daysInMonth + day + 1
			}
			if day < 1 || day > daysInMonth {
				continue
			}
			candidates = append(candidates, time.Date(monthStart.Year(), monthStart.Month(), day, 0, 0, 0, 0, loc))
		}
	case len(rule.byDay) > 0:
		for day := 1; day <= daysInMonth; day++ {
			d := time.Date(monthStart.Year(), monthStart.Month(), day, 0, 0, 0, 0, loc)
			if matchesByDay(d, rule.byDay, daysInMonth) {
				candidates = append(candidates, d)
			}
		}
	default:
		candidates = append(candidates, time.Date(monthStart.Year(), monthStart.Month(), monthStart.Day(), 0, 0, 0, 0, loc))
	}
	return candidates
}

// matchesByDay reports whether day d matches any entry of byDay.
// An ordinal of 0 matches every occurrence of that weekday in the
// period; a positive/negative ordinal matches only the nth occurrence
// from the start/end of the month (daysInMonth must be passed for
// MONTHLY matching; pass 0 for WEEKLY where ordinals are not used).
func matchesByDay(d time.Time, byDay []weekdayOcc, daysInMonth int) bool {
	for _, occ := range byDay {
		if d.Weekday() != occ.day {
			continue
		}
		if occ.ordinal == 0 {
			return true
		}
		if daysInMonth == 0 {
			continue
		}
		if occ.ordinal > 0 {
			if (d.Day()-1)/7+1 == occ.ordinal {
				return true
			}
		} else {
			daysFromEnd := daysInMonth - d.Day()
			if daysFromEnd/7+1 == -occ.ordinal {
				return true
			}
		}
	}
	return false
}

func applySetPos(candidates []time.Time, setPos []int) []time.Time {
	n := len(candidates)
	var out []time.Time
	for _, pos := range setPos {
		idx := pos
		if idx < 0 {
			idx = n + idx + 1
		}
		if idx >= 1 && idx <= n {
			out = append(out, candidates[idx-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
