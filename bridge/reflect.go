package bridge

import (
	"context"
	"fmt"
	"reflect"

	"github.com/chazu/girder/value"
)

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// classBuilderFromType assembles a class builder for a host struct type by
// runtime reflection: exported fields become public variables with reflect
// accessors, exported pointer-receiver methods become public methods. A
// method whose first parameter is a context.Context is treated as a
// coroutine and wrapped through the async bridge.
//
// The constructor produces a zero-valued *T so field setters can write
// through the pointer.
func (b *Bridge) classBuilderFromType(t reflect.Type) (*ClassBuilder, error) {
	structType := t
	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}
	if structType.Kind() != reflect.Struct || structType.Name() == "" {
		return nil, &EncodingError{GoType: t.String()}
	}

	cb := b.BuildClass(structType.Name())
	cb.Constructor(0, func(args []interface{}) (interface{}, error) {
		return reflect.New(structType).Interface(), nil
	})

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() || field.Anonymous {
			continue
		}
		name := field.Name
		cb.PublicVariable(name, nil,
			func(instance interface{}) (interface{}, error) {
				fv, err := fieldOf(instance, name)
				if err != nil {
					return nil, err
				}
				return fv.Interface(), nil
			},
			func(instance interface{}, val interface{}) error {
				fv, err := fieldOf(instance, name)
				if err != nil {
					return err
				}
				converted, err := convertArg(val, fv.Type())
				if err != nil {
					return fmt.Errorf("setting %s.%s: %w", structType.Name(), name, err)
				}
				fv.Set(converted)
				return nil
			})
	}

	ptrType := reflect.PtrTo(structType)
	for i := 0; i < ptrType.NumMethod(); i++ {
		method := ptrType.Method(i)
		if !method.IsExported() {
			continue
		}
		sig := method.Func.Type()
		// Signature includes the receiver at index 0
		if sig.NumIn() > 1 && sig.In(1) == ctxType {
			argc := sig.NumIn() - 2
			cb.PublicCoroutine(method.Name, argc, reflectAsyncMethod(method))
		} else {
			argc := sig.NumIn() - 1
			cb.PublicMethod(method.Name, argc, reflectMethod(method))
		}
	}

	return cb, nil
}

// fieldOf resolves an exported field on a host instance, dereferencing the
// instance pointer.
func fieldOf(instance interface{}, name string) (reflect.Value, error) {
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil instance")
		}
		rv = rv.Elem()
	}
	fv := rv.FieldByName(name)
	if !fv.IsValid() {
		return reflect.Value{}, fmt.Errorf("no field %s on %s", name, rv.Type())
	}
	if !fv.CanSet() {
		return reflect.Value{}, fmt.Errorf("field %s on %s is not addressable", name, rv.Type())
	}
	return fv, nil
}

func reflectMethod(method reflect.Method) Method {
	return func(instance interface{}, args []interface{}) (interface{}, error) {
		return callReflected(method, instance, nil, args)
	}
}

func reflectAsyncMethod(method reflect.Method) AsyncMethod {
	return func(ctx context.Context, instance interface{}, args []interface{}) (interface{}, error) {
		return callReflected(method, instance, ctx, args)
	}
}

// callReflected invokes a reflected method, converting decoded host
// arguments to the declared parameter types and unpacking (T), (T, error),
// (error) and empty result shapes.
func callReflected(method reflect.Method, instance interface{}, ctx context.Context, args []interface{}) (interface{}, error) {
	sig := method.Func.Type()
	in := make([]reflect.Value, 0, sig.NumIn())
	in = append(in, reflect.ValueOf(instance))
	next := 1
	if ctx != nil {
		in = append(in, reflect.ValueOf(ctx))
		next = 2
	}
	for i, arg := range args {
		paramIdx := next + i
		if paramIdx >= sig.NumIn() {
			return nil, &ArityError{Declared: sig.NumIn() - next, Got: len(args)}
		}
		converted, err := convertArg(arg, sig.In(paramIdx))
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, method.Name, err)
		}
		in = append(in, converted)
	}

	out := method.Func.Call(in)

	var result interface{}
	for _, o := range out {
		if o.Type() == errorType {
			if !o.IsNil() {
				return nil, o.Interface().(error)
			}
			continue
		}
		result = o.Interface()
	}
	return result, nil
}

// convertArg coerces a decoded host value to a declared parameter type.
func convertArg(arg interface{}, target reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(target), nil
	}
	if target.Kind() == reflect.Interface && target.NumMethod() == 0 {
		return reflect.ValueOf(arg), nil
	}
	rv := reflect.ValueOf(arg)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	// Numeric widening/narrowing only; int-to-string rune conversion and
	// friends are never what a caller means here
	if isNumericKind(rv.Kind()) && isNumericKind(target.Kind()) {
		return rv.Convert(target), nil
	}
	if v, ok := arg.(value.Value); ok {
		return reflect.Value{}, fmt.Errorf("cannot pass %s value to parameter of type %s", v.Type, target)
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", arg, target)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
