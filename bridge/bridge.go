// Package bridge implements the host side of the embedding boundary: value
// marshalling, the callable registry and dispatch adapter, the async bridge,
// the object instance store, the class builder and the VM facade.
package bridge

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/girder/config"
	"github.com/chazu/girder/value"
	"github.com/chazu/girder/vmapi"

	_ "github.com/tliron/commonlog/simple"
)

// AsyncCallable is a host callable that may block or perform asynchronous
// work. It must never run on the VM goroutine directly; WrapAsync moves it
// onto the pool.
type AsyncCallable func(ctx context.Context, args []interface{}) (interface{}, error)

// classRecord tracks one registered class. goType is nil for classes built
// through the explicit builder API.
type classRecord struct {
	name   string
	goType reflect.Type
	def    *vmapi.ClassDefinition
}

// Bridge is the host-facing facade over the embedded VM. All VM access is
// serialized through its worker; asynchronous variants run on its pool and
// resolve promises so the host's own goroutines never block on VM execution.
type Bridge struct {
	cfg        *config.Config
	worker     *Worker
	pool       *Pool
	registry   *Registry
	instances  *InstanceStore
	codec      *Codec
	dispatcher *Dispatcher
	log        commonlog.Logger

	classMu sync.Mutex
	classes map[string]*classRecord

	stopSweeper func()
}

// New creates a bridge over a VM service. A nil config uses defaults.
func New(svc vmapi.Service, cfg *config.Config) *Bridge {
	if cfg == nil {
		cfg = config.Default()
	}

	b := &Bridge{
		cfg:       cfg,
		worker:    NewWorker(svc),
		pool:      NewPool(cfg.PoolSize),
		registry:  NewRegistry(),
		instances: NewInstanceStore(),
		classes:   make(map[string]*classRecord),
		log:       commonlog.GetLogger("girder.bridge"),
	}
	b.codec = NewCodec(b.instances, b)
	b.dispatcher = NewDispatcher(b.registry, b.codec)

	_, handleTTL, sweepInterval := cfg.Timeouts()
	if handleTTL > 0 {
		b.stopSweeper = b.instances.StartSweeper(sweepInterval, handleTTL)
	}

	return b
}

// Close stops the worker, the pool and the sweeper. The VM must not dispatch
// after Close.
func (b *Bridge) Close() {
	if b.stopSweeper != nil {
		b.stopSweeper()
	}
	b.pool.Stop()
	b.worker.Stop()
}

// Registry exposes the callable registry, mainly for diagnostics and tests.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Instances exposes the object instance store.
func (b *Bridge) Instances() *InstanceStore {
	return b.instances
}

// Codec exposes the value codec.
func (b *Bridge) Codec() *Codec {
	return b.codec
}

// Dispatch is the boundary entry point handed to the VM.
func (b *Bridge) Dispatch(id string, jsonArgs string) []byte {
	return b.dispatcher.Dispatch(id, jsonArgs)
}

// doVM runs a VM operation through the worker, bounding host-originated
// waits by the configured call timeout. A timed-out operation keeps running
// on the VM goroutine; only the waiting caller gives up. Re-entrant calls
// from the VM goroutine run inline and are never bounded, since abandoning
// them would corrupt the call in progress.
func (b *Bridge) doVM(fn func(vmapi.Service) (value.Value, error)) (value.Value, error) {
	timeout, _, _ := b.cfg.Timeouts()
	if timeout <= 0 || b.worker.OnWorkerGoroutine() {
		return b.worker.Do(fn)
	}

	done := make(chan vmResult, 1)
	go func() {
		val, err := b.worker.Do(fn)
		done <- vmResult{val: val, err: err}
	}()
	select {
	case result := <-done:
		return result.val, result.err
	case <-time.After(timeout):
		return value.Nothing(), &VMError{Op: "call", Message: "timed out after " + timeout.String()}
	}
}

// ---------------------------------------------------------------------------
// Definition surface
// ---------------------------------------------------------------------------

// DefineVariable defines a global VM variable from a host value.
func (b *Bridge) DefineVariable(name string, hostValue interface{}, constant bool) error {
	encoded, err := b.codec.Encode(hostValue)
	if err != nil {
		return err
	}
	_, err = b.worker.Do(func(svc vmapi.Service) (value.Value, error) {
		return value.Nothing(), svc.DefineVariable(name, encoded, constant)
	})
	return err
}

// DefineFunction registers a host callable and defines a VM function of the
// given name and arity backed by it through dispatch.
func (b *Bridge) DefineFunction(name string, argc int, fn Callable) error {
	id := b.registry.Register(argc, fn)
	b.log.Debugf("function %s registered as %s", name, id)
	_, err := b.worker.Do(func(svc vmapi.Service) (value.Value, error) {
		return value.Nothing(), svc.DefineFunction(id, name, argc, b.dispatcher.Dispatch)
	})
	return err
}

// DefineCoroutine defines a VM function backed by an asynchronous host
// callable. The VM sees the usual synchronous contract: its thread blocks
// until the pooled call resolves.
func (b *Bridge) DefineCoroutine(name string, argc int, fn AsyncCallable) error {
	return b.DefineFunction(name, argc, b.WrapAsync(fn))
}

// FallbackHandler handles calls to functions the VM has no definition for.
// It receives the attempted function name and the call arguments.
type FallbackHandler func(name string, args []interface{}) (interface{}, error)

// SetFallbackHandler installs fn as the VM's unknown-function handler. The
// dispatch entry is variadic; the attempted name travels as the first payload
// element, so calls of any arity reach the one handler.
func (b *Bridge) SetFallbackHandler(fn FallbackHandler) error {
	id := b.registry.Register(VariadicArity, func(args []interface{}) (interface{}, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("fallback dispatch carries no function name")
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("fallback dispatch expects a function name, got %T", args[0])
		}
		return fn(name, args[1:])
	})
	_, err := b.worker.Do(func(svc vmapi.Service) (value.Value, error) {
		return value.Nothing(), svc.SetFallbackHandler(id, b.dispatcher.Dispatch)
	})
	return err
}

// WrapAsync converts an asynchronous host callable into a synchronous one of
// the same declared arity. The caller blocks on the promise; the outcome,
// success or failure, is relayed verbatim.
func (b *Bridge) WrapAsync(fn AsyncCallable) Callable {
	return func(args []interface{}) (interface{}, error) {
		promise := b.pool.Submit(func() (interface{}, error) {
			return fn(context.Background(), args)
		})
		return promise.Wait(context.Background())
	}
}

// ---------------------------------------------------------------------------
// Class registration
// ---------------------------------------------------------------------------

// BuildClass returns a builder for an explicitly described class. Call
// Define on the builder to register it.
func (b *Bridge) BuildClass(name string) *ClassBuilder {
	return &ClassBuilder{bridge: b, name: name}
}

// Define registers the built class with the bridge and submits it to the VM.
// A second definition under the same name is a conflict.
func (cb *ClassBuilder) Define() error {
	return cb.bridge.defineClass(cb, nil)
}

// defineClass registers a class definition exactly once per name. goType is
// non-nil for reflectively built classes; re-registering the same Go type is
// a no-op, while a name collision between distinct types is an error.
func (b *Bridge) defineClass(cb *ClassBuilder, goType reflect.Type) error {
	b.classMu.Lock()
	defer b.classMu.Unlock()

	if existing, ok := b.classes[cb.name]; ok {
		if goType != nil && existing.goType == goType {
			return nil
		}
		return ErrClassConflict
	}

	def, err := cb.build()
	if err != nil {
		return err
	}
	if _, err := b.worker.Do(func(svc vmapi.Service) (value.Value, error) {
		return value.Nothing(), svc.DefineClass(def)
	}); err != nil {
		return err
	}

	b.classes[cb.name] = &classRecord{name: cb.name, goType: goType, def: def}
	b.log.Infof("class %s defined", cb.name)
	return nil
}

// RegisterType reflects a host struct type into a VM class, registering it
// on first sight. Returns the class name.
func (b *Bridge) RegisterType(host interface{}) (string, error) {
	t := reflect.TypeOf(host)
	cb, err := b.classBuilderFromType(t)
	if err != nil {
		return "", err
	}
	goType := t
	if goType.Kind() == reflect.Ptr {
		goType = goType.Elem()
	}
	if err := b.defineClass(cb, goType); err != nil {
		return "", err
	}
	return cb.name, nil
}

// IsClassDefined reports whether a class name has been registered.
func (b *Bridge) IsClassDefined(name string) bool {
	b.classMu.Lock()
	defer b.classMu.Unlock()
	_, ok := b.classes[name]
	return ok
}

// RegisterObject implements ObjectRegistrar for the codec: an unclassifiable
// host value becomes a VM instance of its reflected class, stored in the
// instance store under the VM-allocated handle.
func (b *Bridge) RegisterObject(host interface{}) (value.Value, error) {
	className, err := b.RegisterType(host)
	if err != nil {
		return value.Nothing(), err
	}

	instance, err := b.worker.Do(func(svc vmapi.Service) (value.Value, error) {
		return svc.NewObjectInstance(className)
	})
	if err != nil {
		return value.Nothing(), err
	}
	if !instance.IsObject() {
		return value.Nothing(), &VMError{Op: "new-object-instance", Message: "service returned a non-object value"}
	}

	// Replace the constructor's zero-valued instance with the live host
	// object; the handle now resolves to it for its whole lifetime.
	b.instances.Put(instance.Handle(), className, host)
	return instance, nil
}

// LookupObject resolves an object handle to its live host instance.
func (b *Bridge) LookupObject(handle string) (interface{}, error) {
	return b.instances.Get(handle)
}

// ---------------------------------------------------------------------------
// Call surface
// ---------------------------------------------------------------------------

// Call invokes a VM function by name and decodes the result.
func (b *Bridge) Call(name string, args ...interface{}) (interface{}, error) {
	encoded, err := b.codec.EncodeAll(args)
	if err != nil {
		return nil, err
	}
	result, err := b.doVM(func(svc vmapi.Service) (value.Value, error) {
		return svc.Call(name, encoded)
	})
	if err != nil {
		return nil, &VMError{Op: "call " + name, Message: err.Error()}
	}
	return b.codec.Decode(result), nil
}

// CallMethod invokes a method on a VM object. The receiver is a host value
// encodable to an object handle.
func (b *Bridge) CallMethod(receiver interface{}, name string, args ...interface{}) (interface{}, error) {
	recv, err := b.codec.Encode(receiver)
	if err != nil {
		return nil, err
	}
	encoded, err := b.codec.EncodeAll(args)
	if err != nil {
		return nil, err
	}
	result, err := b.doVM(func(svc vmapi.Service) (value.Value, error) {
		return svc.CallMethod(recv, name, encoded)
	})
	if err != nil {
		return nil, &VMError{Op: "call-method " + name, Message: err.Error()}
	}
	return b.codec.Decode(result), nil
}

// Execute runs VM source text and decodes its result.
func (b *Bridge) Execute(source string) (interface{}, error) {
	result, err := b.doVM(func(svc vmapi.Service) (value.Value, error) {
		return svc.Execute(source)
	})
	if err != nil {
		return nil, &VMError{Op: "execute", Message: err.Error()}
	}
	return b.codec.Decode(result), nil
}

// GetVariable reads a global VM variable.
func (b *Bridge) GetVariable(name string) (interface{}, error) {
	result, err := b.doVM(func(svc vmapi.Service) (value.Value, error) {
		return svc.GetVariable(name)
	})
	if err != nil {
		return nil, &VMError{Op: "get-variable " + name, Message: err.Error()}
	}
	return b.codec.Decode(result), nil
}

// SetVariable writes a global VM variable.
func (b *Bridge) SetVariable(name string, hostValue interface{}) error {
	encoded, err := b.codec.Encode(hostValue)
	if err != nil {
		return err
	}
	_, err = b.doVM(func(svc vmapi.Service) (value.Value, error) {
		return value.Nothing(), svc.SetVariable(name, encoded)
	})
	if err != nil {
		return &VMError{Op: "set-variable " + name, Message: err.Error()}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Asynchronous variants
// ---------------------------------------------------------------------------

// async runs a facade operation on the pool and resolves a promise, so the
// calling goroutine never blocks on VM execution.
func (b *Bridge) async(op func() (interface{}, error)) *Promise {
	return b.pool.Submit(op)
}

// DefineVariableAsync is the asynchronous form of DefineVariable.
func (b *Bridge) DefineVariableAsync(name string, hostValue interface{}, constant bool) *Promise {
	return b.async(func() (interface{}, error) {
		return nil, b.DefineVariable(name, hostValue, constant)
	})
}

// DefineFunctionAsync is the asynchronous form of DefineFunction.
func (b *Bridge) DefineFunctionAsync(name string, argc int, fn Callable) *Promise {
	return b.async(func() (interface{}, error) {
		return nil, b.DefineFunction(name, argc, fn)
	})
}

// DefineCoroutineAsync is the asynchronous form of DefineCoroutine.
func (b *Bridge) DefineCoroutineAsync(name string, argc int, fn AsyncCallable) *Promise {
	return b.async(func() (interface{}, error) {
		return nil, b.DefineCoroutine(name, argc, fn)
	})
}

// DefineAsync registers the built class asynchronously.
func (cb *ClassBuilder) DefineAsync() *Promise {
	return cb.bridge.async(func() (interface{}, error) {
		return nil, cb.Define()
	})
}

// CallAsync is the asynchronous form of Call.
func (b *Bridge) CallAsync(name string, args ...interface{}) *Promise {
	return b.async(func() (interface{}, error) {
		return b.Call(name, args...)
	})
}

// CallMethodAsync is the asynchronous form of CallMethod.
func (b *Bridge) CallMethodAsync(receiver interface{}, name string, args ...interface{}) *Promise {
	return b.async(func() (interface{}, error) {
		return b.CallMethod(receiver, name, args...)
	})
}

// ExecuteAsync is the asynchronous form of Execute.
func (b *Bridge) ExecuteAsync(source string) *Promise {
	return b.async(func() (interface{}, error) {
		return b.Execute(source)
	})
}
