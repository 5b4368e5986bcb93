package bridge

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/girder/value"
)

// Dispatcher is the single entry point the VM uses to invoke registered host
// callables. Every failure, including an unknown identifier or a panicking
// callable, is funnelled into the structured error payload; native errors
// never cross into VM-controlled code.
type Dispatcher struct {
	registry *Registry
	codec    *Codec
	log      commonlog.Logger
}

// NewDispatcher creates a dispatcher over a registry and codec.
func NewDispatcher(registry *Registry, codec *Codec) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		codec:    codec,
		log:      commonlog.GetLogger("girder.dispatch"),
	}
}

// Dispatch decodes the argument payload, invokes the callable registered
// under id, and encodes either the result or the failure. Its signature is
// the boundary's vmapi.DispatchFunc.
func (d *Dispatcher) Dispatch(id string, jsonArgs string) []byte {
	result, err := d.invoke(id, jsonArgs)
	if err != nil {
		d.log.Debugf("dispatch %s failed: %v", id, err)
		return value.MarshalError(err.Error())
	}
	return value.MarshalResult(result)
}

func (d *Dispatcher) invoke(id string, jsonArgs string) (value.Value, error) {
	args, err := value.ParseArgs(jsonArgs)
	if err != nil {
		return value.Nothing(), err
	}

	fn, argc, ok := d.registry.Lookup(id)
	if !ok {
		return value.Nothing(), fmt.Errorf("%w: %s", ErrUnknownCallable, id)
	}

	// Declared arity is checked at call time, not registration time. A
	// negative declared arity marks a variadic entry (the fallback handler).
	if argc >= 0 && len(args) != argc {
		return value.Nothing(), &ArityError{Declared: argc, Got: len(args)}
	}

	hostResult, err := d.call(fn, d.codec.DecodeAll(args))
	if err != nil {
		return value.Nothing(), err
	}

	return d.codec.Encode(hostResult)
}

// call invokes a host callable, converting panics into errors.
func (d *Dispatcher) call(fn Callable, args []interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HostCallError{Wrapped: fmt.Errorf("panic: %v", r)}
		}
	}()
	result, err = fn(args)
	if err != nil {
		err = &HostCallError{Wrapped: err}
	}
	return result, err
}
