package bridge

import (
	"context"
	"fmt"

	"github.com/chazu/girder/value"
	"github.com/chazu/girder/vmapi"
)

// Getter reads a variable from a resolved host instance.
type Getter func(instance interface{}) (interface{}, error)

// Setter writes a variable on a resolved host instance.
type Setter func(instance interface{}, val interface{}) error

// Method is a class member body. It receives the resolved host instance and
// the declared arguments.
type Method func(instance interface{}, args []interface{}) (interface{}, error)

// Constructor instantiates the host type from constructor arguments.
type Constructor func(args []interface{}) (interface{}, error)

// AsyncMethod is an asynchronous class member body. It is wrapped through
// the async bridge before registration, so the VM only ever sees synchronous
// call contracts.
type AsyncMethod func(ctx context.Context, instance interface{}, args []interface{}) (interface{}, error)

// memberKind tags a registered member descriptor.
type memberKind int

const (
	memberVariable memberKind = iota
	memberMethod
	memberCoroutine
)

type memberVisibility int

const (
	visPublic memberVisibility = iota
	visPrivate
	visShared
)

type memberDesc struct {
	kind       memberKind
	visibility memberVisibility
	name       string
	argc       int
	getter     Getter
	setter     Setter
	method     Method
	coroutine  AsyncMethod
	initial    value.Value
	locked     bool
}

// ClassBuilder assembles a VM class definition from explicitly registered
// member descriptors, wiring each member through the callable registry. Use
// Bridge.BuildClass to obtain one; call Define to register and submit the
// class.
type ClassBuilder struct {
	bridge   *Bridge
	name     string
	ctorArgc int
	ctor     Constructor
	members  []memberDesc
	firstErr error
}

// Name returns the class name.
func (cb *ClassBuilder) Name() string {
	return cb.name
}

// Constructor registers the class constructor with its declared arity.
func (cb *ClassBuilder) Constructor(argc int, ctor Constructor) *ClassBuilder {
	cb.ctorArgc = argc
	cb.ctor = ctor
	return cb
}

func (cb *ClassBuilder) addVariable(vis memberVisibility, name string, initial interface{}, locked bool, getter Getter, setter Setter) *ClassBuilder {
	encoded, err := cb.bridge.codec.Encode(initial)
	if err != nil && cb.firstErr == nil {
		cb.firstErr = fmt.Errorf("variable %s: %w", name, err)
	}
	cb.members = append(cb.members, memberDesc{
		kind:       memberVariable,
		visibility: vis,
		name:       name,
		initial:    encoded,
		locked:     locked,
		getter:     getter,
		setter:     setter,
	})
	return cb
}

// PublicVariable registers a public variable with optional accessors.
func (cb *ClassBuilder) PublicVariable(name string, initial interface{}, getter Getter, setter Setter) *ClassBuilder {
	return cb.addVariable(visPublic, name, initial, false, getter, setter)
}

// PrivateVariable registers a private variable with optional accessors.
func (cb *ClassBuilder) PrivateVariable(name string, initial interface{}, getter Getter, setter Setter) *ClassBuilder {
	return cb.addVariable(visPrivate, name, initial, false, getter, setter)
}

// SharedVariable registers a class-shared variable with optional accessors.
func (cb *ClassBuilder) SharedVariable(name string, initial interface{}, getter Getter, setter Setter) *ClassBuilder {
	return cb.addVariable(visShared, name, initial, false, getter, setter)
}

// LockedVariable registers a public read-only variable.
func (cb *ClassBuilder) LockedVariable(name string, initial interface{}, getter Getter) *ClassBuilder {
	return cb.addVariable(visPublic, name, initial, true, getter, nil)
}

// PublicMethod registers a public method with its declared arity.
func (cb *ClassBuilder) PublicMethod(name string, argc int, fn Method) *ClassBuilder {
	cb.members = append(cb.members, memberDesc{
		kind: memberMethod, visibility: visPublic, name: name, argc: argc, method: fn,
	})
	return cb
}

// PrivateMethod registers a private method with its declared arity.
func (cb *ClassBuilder) PrivateMethod(name string, argc int, fn Method) *ClassBuilder {
	cb.members = append(cb.members, memberDesc{
		kind: memberMethod, visibility: visPrivate, name: name, argc: argc, method: fn,
	})
	return cb
}

// PublicCoroutine registers a public asynchronous method. The body runs on
// the async bridge; the VM-visible contract stays synchronous.
func (cb *ClassBuilder) PublicCoroutine(name string, argc int, fn AsyncMethod) *ClassBuilder {
	cb.members = append(cb.members, memberDesc{
		kind: memberCoroutine, visibility: visPublic, name: name, argc: argc, coroutine: fn,
	})
	return cb
}

// PrivateCoroutine registers a private asynchronous method.
func (cb *ClassBuilder) PrivateCoroutine(name string, argc int, fn AsyncMethod) *ClassBuilder {
	cb.members = append(cb.members, memberDesc{
		kind: memberCoroutine, visibility: visPrivate, name: name, argc: argc, coroutine: fn,
	})
	return cb
}

// build registers all member dispatch entries and assembles the class
// definition. Dispatch identifiers exist in the registry before the
// definition is handed to the VM.
func (cb *ClassBuilder) build() (*vmapi.ClassDefinition, error) {
	if cb.firstErr != nil {
		return nil, cb.firstErr
	}
	if cb.name == "" {
		return nil, fmt.Errorf("class has no name")
	}
	if cb.ctor == nil {
		return nil, fmt.Errorf("class %s has no constructor", cb.name)
	}

	b := cb.bridge
	def := vmapi.NewClassDefinition(cb.name)
	def.Dispatch = b.dispatcher.Dispatch

	// Member payloads carry the instance handle as their first element, so
	// every registered arity is the declared arity plus one.
	ctorID := b.registry.Register(cb.ctorArgc+1, cb.ctorCallable())
	def.Constructor = &vmapi.ClassMethod{
		Name:       cb.name,
		Argc:       cb.ctorArgc,
		DispatchID: ctorID,
	}

	for i := range cb.members {
		m := &cb.members[i]
		switch m.kind {
		case memberVariable:
			cv := &vmapi.ClassVariable{Name: m.name, Value: m.initial, Locked: m.locked}
			if m.getter != nil {
				cv.GetterID = b.registry.Register(1, cb.getterCallable(m.getter))
			}
			if m.setter != nil {
				cv.SetterID = b.registry.Register(2, cb.setterCallable(m.setter))
			}
			variableTable(def, m.visibility)[m.name] = cv

		case memberMethod:
			id := b.registry.Register(m.argc+1, cb.methodCallable(m.method))
			methodTable(def, m.visibility)[m.name] = &vmapi.ClassMethod{
				Name: m.name, Argc: m.argc, DispatchID: id,
			}

		case memberCoroutine:
			sync := cb.methodCallable(wrapAsyncMethod(b.pool, m.coroutine))
			id := b.registry.Register(m.argc+1, sync)
			methodTable(def, m.visibility)[m.name] = &vmapi.ClassMethod{
				Name: m.name, Argc: m.argc, DispatchID: id,
			}
		}
	}

	return def, nil
}

// ctorCallable adapts the constructor into a dispatch callable. The VM
// passes a fresh instance handle first; the new host instance is inserted
// into the instance store under it.
func (cb *ClassBuilder) ctorCallable() Callable {
	b := cb.bridge
	className := cb.name
	ctor := cb.ctor
	return func(args []interface{}) (interface{}, error) {
		handle, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("constructor expects an instance handle, got %T", args[0])
		}
		instance, err := ctor(args[1:])
		if err != nil {
			return nil, err
		}
		b.instances.Put(handle, className, instance)
		return nil, nil
	}
}

func (cb *ClassBuilder) resolve(arg interface{}) (interface{}, error) {
	handle, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("member call expects an instance handle, got %T", arg)
	}
	return cb.bridge.instances.Get(handle)
}

func (cb *ClassBuilder) getterCallable(getter Getter) Callable {
	return func(args []interface{}) (interface{}, error) {
		instance, err := cb.resolve(args[0])
		if err != nil {
			return nil, err
		}
		return getter(instance)
	}
}

func (cb *ClassBuilder) setterCallable(setter Setter) Callable {
	return func(args []interface{}) (interface{}, error) {
		instance, err := cb.resolve(args[0])
		if err != nil {
			return nil, err
		}
		return nil, setter(instance, args[1])
	}
}

func (cb *ClassBuilder) methodCallable(fn Method) Callable {
	return func(args []interface{}) (interface{}, error) {
		instance, err := cb.resolve(args[0])
		if err != nil {
			return nil, err
		}
		return fn(instance, args[1:])
	}
}

// wrapAsyncMethod converts an asynchronous member body into a synchronous
// one by submitting it to the pool and blocking the dispatching goroutine
// until the promise resolves. No cancellation: once submitted, the call runs
// to completion or failure and the outcome is relayed verbatim.
func wrapAsyncMethod(pool *Pool, fn AsyncMethod) Method {
	return func(instance interface{}, args []interface{}) (interface{}, error) {
		promise := pool.Submit(func() (interface{}, error) {
			return fn(context.Background(), instance, args)
		})
		return promise.Wait(context.Background())
	}
}

func variableTable(def *vmapi.ClassDefinition, vis memberVisibility) map[string]*vmapi.ClassVariable {
	switch vis {
	case visPrivate:
		return def.PrivateVariables
	case visShared:
		return def.SharedVariables
	default:
		return def.PublicVariables
	}
}

func methodTable(def *vmapi.ClassDefinition, vis memberVisibility) map[string]*vmapi.ClassMethod {
	if vis == visPrivate {
		return def.PrivateMethods
	}
	return def.PublicMethods
}
