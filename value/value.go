// Package value defines the tagged value representation shared by the host
// and the embedded VM. Every piece of data crossing the boundary is a Value;
// host objects cross as opaque handles only.
package value

import (
	"fmt"
	"strconv"
)

// Type represents the tag of a boundary value
type Type int

const (
	TypeNothing Type = iota
	TypeInteger
	TypeFloat
	TypeString
	TypeBool
	TypeSequence
	TypeMapping
	TypeObject
)

// String returns the tag name for diagnostics
func (t Type) String() string {
	switch t {
	case TypeNothing:
		return "Nothing"
	case TypeInteger:
		return "Integer"
	case TypeFloat:
		return "Float"
	case TypeString:
		return "String"
	case TypeBool:
		return "Bool"
	case TypeSequence:
		return "Sequence"
	case TypeMapping:
		return "Mapping"
	case TypeObject:
		return "Object"
	default:
		return "Unknown"
	}
}

// Value is the Go representation of a boundary value. Values are constructed
// fresh per conversion and must not be mutated after construction.
type Value struct {
	Type      Type
	IntVal    int64
	FloatVal  float64
	StrVal    string
	SeqVal    []Value
	MapVal    map[string]Value
	HandleVal string
}

// Nothing returns the nothing value
func Nothing() Value {
	return Value{Type: TypeNothing}
}

// IntegerValue creates an integer value
func IntegerValue(n int64) Value {
	return Value{Type: TypeInteger, IntVal: n}
}

// FloatValue creates a float value
func FloatValue(f float64) Value {
	return Value{Type: TypeFloat, FloatVal: f}
}

// StringValue creates a string value
func StringValue(s string) Value {
	return Value{Type: TypeString, StrVal: s}
}

// BoolValue creates a boolean value
func BoolValue(b bool) Value {
	if b {
		return Value{Type: TypeBool, IntVal: 1}
	}
	return Value{Type: TypeBool, IntVal: 0}
}

// SequenceValue creates an ordered sequence value
func SequenceValue(elems []Value) Value {
	return Value{Type: TypeSequence, SeqVal: elems}
}

// MappingValue creates a string-keyed mapping value
func MappingValue(entries map[string]Value) Value {
	return Value{Type: TypeMapping, MapVal: entries}
}

// ObjectValue creates an opaque object handle value
func ObjectValue(handle string) Value {
	return Value{Type: TypeObject, HandleVal: handle}
}

// IsNothing returns true if the value is nothing
func (v Value) IsNothing() bool {
	return v.Type == TypeNothing
}

// IsObject returns true if the value is an object handle
func (v Value) IsObject() bool {
	return v.Type == TypeObject
}

// AsInt returns the integer payload
func (v Value) AsInt() int64 {
	return v.IntVal
}

// AsFloat returns the float payload, widening integers
func (v Value) AsFloat() float64 {
	if v.Type == TypeInteger {
		return float64(v.IntVal)
	}
	return v.FloatVal
}

// AsString returns the string payload
func (v Value) AsString() string {
	return v.StrVal
}

// AsBool returns the boolean payload
func (v Value) AsBool() bool {
	return v.IntVal != 0
}

// Handle returns the object handle payload
func (v Value) Handle() string {
	return v.HandleVal
}

// Equal reports deep equality of two values. Sequences compare elementwise
// in order; mappings compare by key/value correspondence.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TypeNothing:
		return true
	case TypeInteger, TypeBool:
		return v.IntVal == other.IntVal
	case TypeFloat:
		return v.FloatVal == other.FloatVal
	case TypeString:
		return v.StrVal == other.StrVal
	case TypeObject:
		return v.HandleVal == other.HandleVal
	case TypeSequence:
		if len(v.SeqVal) != len(other.SeqVal) {
			return false
		}
		for i := range v.SeqVal {
			if !v.SeqVal[i].Equal(other.SeqVal[i]) {
				return false
			}
		}
		return true
	case TypeMapping:
		if len(v.MapVal) != len(other.MapVal) {
			return false
		}
		for k, val := range v.MapVal {
			ov, ok := other.MapVal[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value for diagnostics
func (v Value) String() string {
	switch v.Type {
	case TypeNothing:
		return "nothing"
	case TypeInteger:
		return strconv.FormatInt(v.IntVal, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.FloatVal, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.StrVal)
	case TypeBool:
		return strconv.FormatBool(v.IntVal != 0)
	case TypeObject:
		return fmt.Sprintf("object(%s)", v.HandleVal)
	case TypeSequence:
		return fmt.Sprintf("sequence(%d)", len(v.SeqVal))
	case TypeMapping:
		return fmt.Sprintf("mapping(%d)", len(v.MapVal))
	}
	return "unknown"
}
