package bridge

import (
	"math"
	"reflect"

	"github.com/chazu/girder/value"
)

// ObjectRegistrar turns an unclassifiable host value into an opaque object
// handle, registering its type with the VM on first sight. The bridge facade
// implements it; a nil registrar makes opaque objects an encoding error.
type ObjectRegistrar interface {
	RegisterObject(host interface{}) (value.Value, error)
}

// Codec converts host values to and from boundary values. Primitive shapes
// convert structurally; anything else becomes an object handle through the
// registrar.
type Codec struct {
	instances *InstanceStore
	objects   ObjectRegistrar
}

// NewCodec creates a codec over an instance store.
func NewCodec(instances *InstanceStore, objects ObjectRegistrar) *Codec {
	return &Codec{instances: instances, objects: objects}
}

// Encode converts a host value into its boundary representation. A fresh
// value is constructed per conversion; no aliasing crosses calls.
func (c *Codec) Encode(host interface{}) (value.Value, error) {
	if host == nil {
		return value.Nothing(), nil
	}

	// Boundary values pass through unchanged (object handles in particular)
	if v, ok := host.(value.Value); ok {
		return v, nil
	}

	rv := reflect.ValueOf(host)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return value.Nothing(), nil
		}
		if rv.Elem().Kind() == reflect.Struct {
			// Pointer to struct is an opaque object, not a dereference
			break
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Bool:
		return value.BoolValue(rv.Bool()), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return value.IntegerValue(rv.Int()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			// Wrapping to a negative integer would silently corrupt the value
			return value.Nothing(), &EncodingError{GoType: rv.Type().String()}
		}
		return value.IntegerValue(int64(u)), nil

	case reflect.Float32, reflect.Float64:
		return value.FloatValue(rv.Float()), nil

	case reflect.String:
		return value.StringValue(rv.String()), nil

	case reflect.Slice, reflect.Array:
		elems := make([]value.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			encoded, err := c.Encode(rv.Index(i).Interface())
			if err != nil {
				return value.Nothing(), err
			}
			elems[i] = encoded
		}
		return value.SequenceValue(elems), nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return value.Nothing(), &EncodingError{GoType: rv.Type().String()}
		}
		entries := make(map[string]value.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			encoded, err := c.Encode(iter.Value().Interface())
			if err != nil {
				return value.Nothing(), err
			}
			entries[iter.Key().String()] = encoded
		}
		return value.MappingValue(entries), nil

	case reflect.Struct, reflect.Ptr:
		if c.objects == nil {
			return value.Nothing(), &EncodingError{GoType: rv.Type().String()}
		}
		if rv.Kind() == reflect.Struct {
			// Store an addressable heap copy: reflected setters and
			// pointer-receiver methods need a *T behind the handle
			p := reflect.New(rv.Type())
			p.Elem().Set(rv)
			return c.objects.RegisterObject(p.Interface())
		}
		return c.objects.RegisterObject(rv.Interface())

	default:
		return value.Nothing(), &EncodingError{GoType: rv.Type().String()}
	}
}

// EncodeAll converts an argument list.
func (c *Codec) EncodeAll(hosts []interface{}) ([]value.Value, error) {
	encoded := make([]value.Value, len(hosts))
	for i, h := range hosts {
		v, err := c.Encode(h)
		if err != nil {
			return nil, err
		}
		encoded[i] = v
	}
	return encoded, nil
}

// Decode converts a boundary value back to a host value. Object handles
// decode to themselves; callers needing the live instance resolve it through
// the instance store.
func (c *Codec) Decode(v value.Value) interface{} {
	switch v.Type {
	case value.TypeNothing:
		return nil
	case value.TypeInteger:
		return v.AsInt()
	case value.TypeFloat:
		return v.AsFloat()
	case value.TypeString:
		return v.AsString()
	case value.TypeBool:
		return v.AsBool()
	case value.TypeSequence:
		elems := make([]interface{}, len(v.SeqVal))
		for i, e := range v.SeqVal {
			elems[i] = c.Decode(e)
		}
		return elems
	case value.TypeMapping:
		entries := make(map[string]interface{}, len(v.MapVal))
		for k, e := range v.MapVal {
			entries[k] = c.Decode(e)
		}
		return entries
	case value.TypeObject:
		return v
	}
	return nil
}

// DecodeAll converts an argument list.
func (c *Codec) DecodeAll(vals []value.Value) []interface{} {
	decoded := make([]interface{}, len(vals))
	for i, v := range vals {
		decoded[i] = c.Decode(v)
	}
	return decoded
}
