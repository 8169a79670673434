package flowkit

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Kind is the tag of a Value.
type Kind int

const (
	KindNil Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
	KindAny
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "any"
	}
}

// Value is a tagged store entry. The tag is computed once when the value is
// stored so readers can branch on Kind without type switches.
type Value struct {
	kind Kind
	v    any
}

// NewValue wraps v and tags it.
func NewValue(v any) Value {
	if existing, ok := v.(Value); ok {
		return existing
	}
	return Value{kind: kindOf(v), v: v}
}

func kindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNil
	case string:
		return KindString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	case bool:
		return KindBool
	case map[string]any:
		return KindMap
	case []any:
		return KindList
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return KindList
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return KindMap
		}
	}
	return KindAny
}

// Kind returns the tag.
func (v Value) Kind() Kind { return v.kind }

// Raw returns the underlying value.
func (v Value) Raw() any { return v.v }

// IsNil reports whether the value is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsString returns the value as a string.
func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

// AsInt returns the value as an int. Integer and float kinds convert.
func (v Value) AsInt() (int, bool) {
	switch n := v.v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// AsFloat64 returns the value as a float64. Integer kinds convert.
func (v Value) AsFloat64() (float64, bool) {
	switch n := v.v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := v.AsInt(); ok {
		return float64(i), true
	}
	return 0, false
}

// AsBool returns the value as a bool.
func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

// AsSlice returns list values as []any.
func (v Value) AsSlice() ([]any, bool) {
	if v.kind != KindList {
		return nil, false
	}
	if s, ok := v.v.([]any); ok {
		return s, true
	}
	return ToSlice(v.v), true
}

// AsMap returns the value as a map[string]any.
func (v Value) AsMap() (map[string]any, bool) {
	m, ok := v.v.(map[string]any)
	return m, ok
}

// Bind copies the value into dest, which must be a non-nil pointer. Values
// of the destination type are assigned directly; anything else goes
// through JSON.
func (v Value) Bind(dest any) error {
	if v.kind == KindNil {
		return fmt.Errorf("bind: nil value")
	}
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("bind: destination must be a non-nil pointer")
	}
	if reflect.TypeOf(v.v) == rv.Type().Elem() {
		rv.Elem().Set(reflect.ValueOf(v.v))
		return nil
	}
	data, err := json.Marshal(v.v)
	if err != nil {
		return fmt.Errorf("bind: marshal %s: %w", v.kind, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("bind: unmarshal into %T: %w", dest, err)
	}
	return nil
}

// As returns the value as T.
func As[T any](v Value) (T, bool) {
	t, ok := v.v.(T)
	return t, ok
}

// ToSlice converts slices of any element type to []any. Non-slice values
// become a one-element slice; nil becomes an empty slice.
func ToSlice(v any) []any {
	if v == nil {
		return []any{}
	}
	switch val := v.(type) {
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
