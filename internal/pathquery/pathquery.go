// Package pathquery implements the Path Query language described in
// spec.md's Glossary: a dotted/indexed path over a Value, with
// minimal filtering via boolean comparisons against literals. It
// backs both template substitution (internal/template) and the
// pipeline executor's `if` condition evaluation.
package pathquery

import (
	"strconv"
	"strings"

	"github.com/ordinaut/ordinaut/internal/value"
)

// Expr is a parsed path query: a base path plus an optional trailing
// comparison against a literal, e.g. "steps.w.temp > 25".
type Expr struct {
	path []segment
	op   string // "", "==", "!=", ">", ">=", "<", "<="
	lit  value.Value
}

type segment struct {
	field string
	index *int
}

// Parse compiles a path query string. A missing field or out-of-range
// index is not a parse error — those are path concerns resolved at
// Eval time to value.Null — but it does fail on structurally invalid
// syntax (an unbalanced '[' or a non-integer index).
func Parse(expr string) (Expr, error) {
	expr = strings.TrimSpace(expr)

	pathStr := expr
	op := ""
	litStr := ""

	if idx, foundOp := findOperator(expr); foundOp != "" {
		pathStr = strings.TrimSpace(expr[:idx])
		op = foundOp
		litStr = strings.TrimSpace(expr[idx+len(foundOp):])
	}

	segs, err := parsePath(pathStr)
	if err != nil {
		return Expr{}, err
	}

	e := Expr{path: segs, op: op}
	if op != "" {
		lit, err := parseLiteral(litStr)
		if err != nil {
			return Expr{}, err
		}
		e.lit = lit
	}
	return e, nil
}

// operators ordered so multi-char variants are matched before their prefix.
var operators = []string{"==", "!=", ">=", "<=", ">", "<"}

func findOperator(expr string) (int, string) {
	for _, op := range operators {
		if idx := indexOutsideQuotes(expr, op); idx >= 0 {
			return idx, op
		}
	}
	return -1, ""
}

func indexOutsideQuotes(s, sub string) int {
	inQuote := false
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i] == '\'' || s[i] == '"' {
			inQuote = !inQuote
		}
		if !inQuote && s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func parsePath(s string) ([]segment, error) {
	var segs []segment
	var cur strings.Builder
	i := 0
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, segment{field: cur.String()})
			cur.Reset()
		}
	}
	for i < len(s) {
		c := s[i]
		switch c {
		case '.':
			flush()
			i++
		case '[':
			flush()
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, &SyntaxError{Expr: s, Reason: "unbalanced '['"}
			}
			idxStr := s[i+1 : i+end]
			n, err := strconv.Atoi(strings.TrimSpace(idxStr))
			if err != nil {
				return nil, &SyntaxError{Expr: s, Reason: "non-integer index"}
			}
			segs = append(segs, segment{index: &n})
			i += end + 1
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return segs, nil
}

func parseLiteral(s string) (value.Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "null":
		return value.Null(), nil
	case s == "true":
		return value.Bool(true), nil
	case s == "false":
		return value.Bool(false), nil
	case len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0]:
		return value.Str(s[1 : len(s)-1]), nil
	default:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return value.Num(n), nil
		}
		return value.Str(s), nil
	}
}

// SyntaxError signals a malformed path query (unbalanced bracket,
// non-integer index) as opposed to a missing path at evaluation time.
type SyntaxError struct {
	Expr   string
	Reason string
}

func (e *SyntaxError) Error() string {
	return "pathquery: invalid expression " + strconv.Quote(e.Expr) + ": " + e.Reason
}

// Eval resolves the expression against ctx. A missing path at any
// segment resolves to value.Null rather than an error, per spec.md
// §4.3's "missing path ⇒ resolves to null" rule.
func Eval(expr Expr, ctx value.Value) value.Value {
	cur := ctx
	for _, seg := range expr.path {
		if seg.index != nil {
			cur = cur.Index(*seg.index)
		} else {
			cur = cur.Get(seg.field)
		}
		if cur.IsNull() {
			break
		}
	}
	if expr.op == "" {
		return cur
	}
	return value.Bool(compareOp(expr.op, cur, expr.lit))
}

func compareOp(op string, a, b value.Value) bool {
	switch op {
	case "==":
		return value.Equal(a, b)
	case "!=":
		return !value.Equal(a, b)
	}
	cmp, ok := value.Compare(a, b)
	if !ok {
		return false
	}
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	}
	return false
}

// EvalString parses and evaluates expr in one call; used by the
// executor for `if` clauses and template paths where recompilation
// cost is not worth caching across a single run.
func EvalString(expr string, ctx value.Value) (value.Value, error) {
	e, err := Parse(expr)
	if err != nil {
		return value.Null(), err
	}
	return Eval(e, ctx), nil
}
