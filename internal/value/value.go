// Package value implements the generic JSON-like value sum type used
// throughout the pipeline executor: task payloads, step arguments,
// step outputs, and event payloads are all represented as Value so
// the executor never carries a stringly-typed context.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNum
	KindStr
	KindArray
	KindObject
)

// Value is a closed sum type over the JSON data model. Zero value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value              { return Value{kind: KindNull} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Num(n float64) Value      { return Value{kind: KindNum, n: n} }
func Str(s string) Value       { return Value{kind: KindStr, s: s} }
func Array(vs []Value) Value   { return Value{kind: KindArray, arr: vs} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)          { return v.b, v.kind == KindBool }
func (v Value) AsNum() (float64, bool)        { return v.n, v.kind == KindNum }
func (v Value) AsStr() (string, bool)         { return v.s, v.kind == KindStr }
func (v Value) AsArray() ([]Value, bool)      { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Truthy implements the spec's "empty/false/null/empty-collection ⇒ falsy" rule.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindNum:
		return v.n != 0
	case KindStr:
		return v.s != ""
	case KindArray:
		return len(v.arr) > 0
	case KindObject:
		return len(v.obj) > 0
	}
	return false
}

// String renders the value's string form, used when a template
// substitution occurs inside a larger string (not the whole field).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNum:
		return formatNum(v.n)
	case KindStr:
		return v.s
	case KindArray, KindObject:
		b, _ := json.Marshal(v)
		return string(b)
	}
	return ""
}

func formatNum(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Equal reports deep, kind-sensitive equality. Used by pathquery's
// literal comparison filters.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNum:
		return a.n == b.n
	case KindStr:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare returns -1/0/1 for ordered comparison of two numeric or
// string values; ok is false for non-comparable kinds or mismatched kinds.
func Compare(a, b Value) (cmp int, ok bool) {
	if a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindNum:
		switch {
		case a.n < b.n:
			return -1, true
		case a.n > b.n:
			return 1, true
		default:
			return 0, true
		}
	case KindStr:
		switch {
		case a.s < b.s:
			return -1, true
		case a.s > b.s:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

// MarshalJSON / UnmarshalJSON let Value round-trip through the store
// (jsonb columns) and through task/step definitions.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNum:
		return json.Marshal(v.n)
	case KindStr:
		return json.Marshal(v.s)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte("{")
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := json.Marshal(v.obj[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// Scan implements database/sql.Scanner, which pgx falls back to for
// Go types it has no built-in codec for. It lets a nullable jsonb
// column (e.g. task_runs.output) scan directly into a Value: SQL NULL
// becomes Null(), anything else is parsed as JSON.
func (v *Value) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		*v = Null()
		return nil
	case []byte:
		return v.UnmarshalJSON(t)
	case string:
		return v.UnmarshalJSON([]byte(t))
	default:
		return fmt.Errorf("value: cannot scan %T", src)
	}
}

// FromAny converts a value produced by encoding/json's generic decode
// (map[string]any / []any / float64 / string / bool / nil) into Value.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Num(t)
	case json.Number:
		f, _ := t.Float64()
		return Num(f)
	case string:
		return Str(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromAny(e)
		}
		return Array(vs)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Object(m)
	case Value:
		return t
	default:
		panic(fmt.Sprintf("value: unsupported type %T", raw))
	}
}

// Get returns the field of an object value, or Null if absent or v is
// not an object — the executor never crashes on a missing path.
func (v Value) Get(field string) Value {
	if v.kind != KindObject {
		return Null()
	}
	if val, ok := v.obj[field]; ok {
		return val
	}
	return Null()
}

// Index returns the i-th element of an array value, or Null if out of
// range or v is not an array.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Null()
	}
	return v.arr[i]
}
