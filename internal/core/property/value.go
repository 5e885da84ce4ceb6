// Package property is the named, typed property surface of components and
// component templates.
package property

import (
	"fmt"
	"math"

	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/scene"
)

// Kind is the type of a property value.
type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int
	Float
	String
	Vector3
	Bytes
)

var kindNames = map[Kind]string{
	Invalid: "invalid",
	Bool:    "bool",
	Int:     "int",
	Float:   "float",
	String:  "string",
	Vector3: "vector3",
	Bytes:   "bytes",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s && k != Invalid {
			return k, nil
		}
	}
	return Invalid, errors.InvalidParams("property.ParseKind", "unknown kind %q", s)
}

// Value is an immutable typed property value.
type Value struct {
	kind Kind
	data any
}

func BoolValue(v bool) Value             { return Value{kind: Bool, data: v} }
func IntValue(v int64) Value             { return Value{kind: Int, data: v} }
func FloatValue(v float64) Value         { return Value{kind: Float, data: v} }
func StringValue(v string) Value         { return Value{kind: String, data: v} }
func Vector3Value(v scene.Vector3) Value { return Value{kind: Vector3, data: v} }

func BytesValue(v []byte) Value {
	c := make([]byte, len(v))
	copy(c, v)
	return Value{kind: Bytes, data: c}
}

// Of converts a plain Go value, as produced by YAML or JSON decoding, into a
// Value.
func Of(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case bool:
		return BoolValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int32:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case uint32:
		return IntValue(int64(x)), nil
	case float32:
		return FloatValue(float64(x)), nil
	case float64:
		return FloatValue(x), nil
	case string:
		return StringValue(x), nil
	case []byte:
		return BytesValue(x), nil
	case scene.Vector3:
		return Vector3Value(x), nil
	default:
		return Value{}, errors.InvalidParams("property.Of", "unsupported value type %T", v)
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsValid() bool { return v.kind != Invalid }

// Interface returns the underlying Go value.
func (v Value) Interface() any { return v.data }

func (v Value) Bool() bool {
	b, _ := v.data.(bool)
	return b
}

func (v Value) Int() int64 {
	switch x := v.data.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	}
	return 0
}

func (v Value) Float() float64 {
	switch x := v.data.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

func (v Value) Str() string {
	s, _ := v.data.(string)
	return s
}

func (v Value) Vector3() scene.Vector3 {
	x, _ := v.data.(scene.Vector3)
	return x
}

func (v Value) Bytes() []byte {
	b, _ := v.data.([]byte)
	return b
}

// Convert returns v as kind k. Int and Float convert into each other, every
// other mismatch is InvalidParams.
func (v Value) Convert(k Kind) (Value, error) {
	if v.kind == k {
		return v, nil
	}
	switch {
	case v.kind == Int && k == Float:
		return FloatValue(v.Float()), nil
	case v.kind == Float && k == Int:
		f := v.Float()
		if f != math.Trunc(f) {
			return Value{}, errors.InvalidParams("Value.Convert", "%v is not an integer", f)
		}
		return IntValue(int64(f)), nil
	}
	return Value{}, errors.InvalidParams("Value.Convert", "cannot convert %s to %s", v.kind, k)
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == Bytes {
		a, b := v.Bytes(), o.Bytes()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	return v.data == o.data
}

func (v Value) String() string {
	if v.kind == Invalid {
		return "<invalid>"
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.data)
}
