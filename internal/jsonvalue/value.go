// Package jsonvalue provides the dynamic JSON-like value type shared by
// providers, the template evaluator, and logger sinks.
package jsonvalue

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the concrete shape held by a Value.
type Kind int

const (
	Null Kind = iota
	Bool
	Int
	Float
	Str
	Array
	Object
)

// Value is a tagged-variant JSON-like datum. It is the currency that
// flows through providers, declare aliases, and provides/logs selects.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func NewNull() Value           { return Value{kind: Null} }
func NewBool(b bool) Value     { return Value{kind: Bool, b: b} }
func NewInt(i int64) Value     { return Value{kind: Int, i: i} }
func NewFloat(f float64) Value { return Value{kind: Float, f: f} }
func NewString(s string) Value { return Value{kind: Str, s: s} }

func NewArray(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: Array, arr: cp}
}

func NewObject(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: Object, obj: cp}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == Null }

func (v Value) Bool() (bool, bool)       { return v.b, v.kind == Bool }
func (v Value) Int() (int64, bool)       { return v.i, v.kind == Int }
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case Float:
		return v.f, true
	case Int:
		return float64(v.i), true
	default:
		return 0, false
	}
}
func (v Value) String() (string, bool) { return v.s, v.kind == Str }

// ArrayItems returns the element slice. Ok is false for non-array kinds.
func (v Value) ArrayItems() ([]Value, bool) {
	if v.kind != Array {
		return nil, false
	}
	return v.arr, true
}

// ObjectFields returns the field map. Ok is false for non-object kinds.
func (v Value) ObjectFields() (map[string]Value, bool) {
	if v.kind != Object {
		return nil, false
	}
	return v.obj, true
}

// Field looks up a key on an Object value; returns Null/false otherwise.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// Index looks up a position in an Array value; returns Null/false if out of range.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != Array || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Truthy implements the `where` predicate semantics: null, false, 0, "",
// and empty arrays/objects are falsy; everything else is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case Null:
		return false
	case Bool:
		return v.b
	case Int:
		return v.i != 0
	case Float:
		return v.f != 0
	case Str:
		return v.s != ""
	case Array:
		return len(v.arr) > 0
	case Object:
		return len(v.obj) > 0
	default:
		return false
	}
}

// Stringify renders the value for template interpolation: strings are
// inserted bare, everything else round-trips through compact JSON.
func (v Value) Stringify() string {
	if v.kind == Str {
		return v.s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Null:
		return []byte("null"), nil
	case Bool:
		return json.Marshal(v.b)
	case Int:
		return json.Marshal(v.i)
	case Float:
		return json.Marshal(v.f)
	case Str:
		return json.Marshal(v.s)
	case Array:
		return json.Marshal(v.arr)
	case Object:
		// Sort keys for deterministic byte-for-byte output across
		// repeated encodings of the same value.
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
	default:
		return nil, fmt.Errorf("jsonvalue: unknown kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromInterface(raw)
	return nil
}

// FromInterface converts a decoded encoding/json (or YAML, once normalized
// to map[string]interface{}/[]interface{}) value tree into a Value.
func FromInterface(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return NewNull()
	case bool:
		return NewBool(t)
	case string:
		return NewString(t)
	case int:
		return NewInt(int64(t))
	case int64:
		return NewInt(t)
	case float64:
		return NewFloat(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromInterface(e)
		}
		return NewArray(items)
	case []Value:
		return NewArray(t)
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = FromInterface(e)
		}
		return NewObject(fields)
	case map[interface{}]interface{}:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[fmt.Sprint(k)] = FromInterface(e)
		}
		return NewObject(fields)
	case Value:
		return t
	default:
		return NewString(fmt.Sprint(t))
	}
}

// Equal does a deep structural comparison (used by round-trip tests).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// Treat Int/Float sameness numerically for robustness across JSON transports.
		af, aok := a.Float()
		bf, bok := b.Float()
		if aok && bok {
			return af == bf
		}
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.b == b.b
	case Int:
		return a.i == b.i
	case Float:
		return a.f == b.f
	case Str:
		return a.s == b.s
	case Array:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, v := range a.obj {
			ov, ok := b.obj[k]
			if !ok || !Equal(v, ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
