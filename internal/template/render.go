// Package template implements the `${...}` substitution language of
// spec.md §6.2: whole-field substitution preserves the resolved
// type, substring substitution stringifies the resolved value.
// Rendering is pure — it performs no I/O and is deterministic for a
// given (value, ctx) pair, satisfying the "template purity" testable
// property (spec.md §8).
package template

import (
	"fmt"
	"strings"

	"github.com/ordinaut/ordinaut/internal/pathquery"
	"github.com/ordinaut/ordinaut/internal/value"
)

// RenderError wraps a path-query syntax failure encountered while
// rendering; the executor surfaces it as a permanent
// TemplateRenderError.
type RenderError struct {
	Template string
	Cause    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template: render %q: %v", e.Template, e.Cause)
}
func (e *RenderError) Unwrap() error { return e.Cause }

// Render walks v recursively, substituting `${path}` occurrences in
// every string it finds against ctx. Non-string values pass through
// unchanged.
func Render(v value.Value, ctx value.Value) (value.Value, error) {
	switch v.Kind() {
	case value.KindStr:
		s, _ := v.AsStr()
		return renderString(s, ctx)
	case value.KindArray:
		arr, _ := v.AsArray()
		out := make([]value.Value, len(arr))
		for i, e := range arr {
			r, err := Render(e, ctx)
			if err != nil {
				return value.Null(), err
			}
			out[i] = r
		}
		return value.Array(out), nil
	case value.KindObject:
		obj, _ := v.AsObject()
		out := make(map[string]value.Value, len(obj))
		for k, e := range obj {
			r, err := Render(e, ctx)
			if err != nil {
				return value.Null(), err
			}
			out[k] = r
		}
		return value.Object(out), nil
	default:
		return v, nil
	}
}

// renderString implements the whole-field-vs-substring distinction:
// if the entire string is a single `${...}` occurrence, the resolved
// value's type is preserved; otherwise every occurrence is stringified
// and concatenated into the surrounding text.
func renderString(s string, ctx value.Value) (value.Value, error) {
	if path, ok := wholeFieldPath(s); ok {
		resolved, err := pathquery.EvalString(path, ctx)
		if err != nil {
			return value.Null(), &RenderError{Template: s, Cause: err}
		}
		return resolved, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		path := rest[start+2 : end]
		resolved, err := pathquery.EvalString(path, ctx)
		if err != nil {
			return value.Null(), &RenderError{Template: s, Cause: err}
		}
		b.WriteString(resolved.String())
		rest = rest[end+1:]
	}
	return value.Str(b.String()), nil
}

// wholeFieldPath reports whether s is exactly one `${...}` occurrence
// with no surrounding text, and if so returns the inner path.
func wholeFieldPath(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[2 : len(s)-1]
	if strings.Contains(inner, "${") {
		return "", false
	}
	return inner, true
}
