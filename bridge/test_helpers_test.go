package bridge

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/chazu/girder/value"
	"github.com/chazu/girder/vmapi"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for bridge package tests.
//
// fakeVM is a minimal in-process stand-in for the embedded VM: it stores
// definitions, allocates instance handles and drives every host interaction
// through the dispatch entry points over the real textual payloads, the way
// the boundary prescribes. It is only ever touched from the bridge worker
// goroutine, so it carries no locking.
// ---------------------------------------------------------------------------

type fakeVar struct {
	val      value.Value
	constant bool
}

type fakeFunc struct {
	id    string
	argc  int
	entry vmapi.DispatchFunc
}

type fakeVM struct {
	vars          map[string]*fakeVar
	funcs         map[string]*fakeFunc
	classes       map[string]*vmapi.ClassDefinition
	instanceClass map[string]string

	executeResult value.Value
	executeErr    error
	lastExecuted  string

	fallbackID    string
	fallbackEntry vmapi.DispatchFunc
}

func newFakeVM() *fakeVM {
	return &fakeVM{
		vars:          make(map[string]*fakeVar),
		funcs:         make(map[string]*fakeFunc),
		classes:       make(map[string]*vmapi.ClassDefinition),
		instanceClass: make(map[string]string),
		executeResult: value.Nothing(),
	}
}

func (f *fakeVM) DefineVariable(name string, val value.Value, constant bool) error {
	if existing, ok := f.vars[name]; ok && existing.constant {
		return fmt.Errorf("variable %s is constant", name)
	}
	f.vars[name] = &fakeVar{val: val, constant: constant}
	return nil
}

func (f *fakeVM) DefineFunction(id, name string, argc int, entry vmapi.DispatchFunc) error {
	f.funcs[name] = &fakeFunc{id: id, argc: argc, entry: entry}
	return nil
}

func (f *fakeVM) DefineClass(def *vmapi.ClassDefinition) error {
	if def.Dispatch == nil {
		return fmt.Errorf("class %s has no dispatch entry point", def.Name)
	}
	f.classes[def.Name] = def
	return nil
}

func (f *fakeVM) NewObjectInstance(className string) (value.Value, error) {
	def, ok := f.classes[className]
	if !ok {
		return value.Nothing(), fmt.Errorf("unknown class: %s", className)
	}
	handle := uuid.NewString()
	if _, err := f.invoke(def.Dispatch, def.Constructor.DispatchID, handle, nil); err != nil {
		return value.Nothing(), err
	}
	f.instanceClass[handle] = className
	return value.ObjectValue(handle), nil
}

func (f *fakeVM) SetFallbackHandler(id string, entry vmapi.DispatchFunc) error {
	f.fallbackID = id
	f.fallbackEntry = entry
	return nil
}

func (f *fakeVM) Call(name string, args []value.Value) (value.Value, error) {
	fn, ok := f.funcs[name]
	if !ok {
		if f.fallbackEntry != nil {
			return f.invoke(f.fallbackEntry, f.fallbackID, name, args)
		}
		return value.Nothing(), fmt.Errorf("unknown function: %s", name)
	}
	payload, err := value.MarshalArgs(args)
	if err != nil {
		return value.Nothing(), err
	}
	return parseOutcome(fn.entry(fn.id, payload))
}

func (f *fakeVM) CallMethod(receiver value.Value, name string, args []value.Value) (value.Value, error) {
	if !receiver.IsObject() {
		return value.Nothing(), fmt.Errorf("receiver is not an object")
	}
	handle := receiver.Handle()
	className, ok := f.instanceClass[handle]
	if !ok {
		return value.Nothing(), fmt.Errorf("unknown instance: %s", handle)
	}
	def := f.classes[className]
	method, ok := def.PublicMethods[name]
	if !ok {
		if method, ok = def.PrivateMethods[name]; !ok {
			return value.Nothing(), fmt.Errorf("unknown method %s on %s", name, className)
		}
	}
	return f.invoke(def.Dispatch, method.DispatchID, handle, args)
}

func (f *fakeVM) Execute(source string) (value.Value, error) {
	f.lastExecuted = source
	return f.executeResult, f.executeErr
}

func (f *fakeVM) GetVariable(name string) (value.Value, error) {
	v, ok := f.vars[name]
	if !ok {
		return value.Nothing(), fmt.Errorf("unknown variable: %s", name)
	}
	return v.val, nil
}

func (f *fakeVM) SetVariable(name string, val value.Value) error {
	if existing, ok := f.vars[name]; ok && existing.constant {
		return fmt.Errorf("variable %s is constant", name)
	}
	f.vars[name] = &fakeVar{val: val}
	return nil
}

// invoke drives a member dispatch entry: the receiver handle travels as the
// first payload element.
func (f *fakeVM) invoke(entry vmapi.DispatchFunc, id, handle string, args []value.Value) (value.Value, error) {
	payload := append([]value.Value{value.StringValue(handle)}, args...)
	text, err := value.MarshalArgs(payload)
	if err != nil {
		return value.Nothing(), err
	}
	return parseOutcome(entry(id, text))
}

// readVariable reads a public class variable through its getter dispatch.
func (f *fakeVM) readVariable(receiver value.Value, name string) (value.Value, error) {
	def := f.classes[f.instanceClass[receiver.Handle()]]
	cv, ok := def.PublicVariables[name]
	if !ok || cv.GetterID == "" {
		return value.Nothing(), fmt.Errorf("no readable variable %s", name)
	}
	return f.invoke(def.Dispatch, cv.GetterID, receiver.Handle(), nil)
}

// writeVariable writes a public class variable through its setter dispatch.
func (f *fakeVM) writeVariable(receiver value.Value, name string, val value.Value) error {
	def := f.classes[f.instanceClass[receiver.Handle()]]
	cv, ok := def.PublicVariables[name]
	if !ok || cv.SetterID == "" {
		return fmt.Errorf("no writable variable %s", name)
	}
	_, err := f.invoke(def.Dispatch, cv.SetterID, receiver.Handle(), []value.Value{val})
	return err
}

func parseOutcome(data []byte) (value.Value, error) {
	result, errMsg, err := value.ParseResult(data)
	if err != nil {
		return value.Nothing(), err
	}
	if errMsg != "" {
		return value.Nothing(), fmt.Errorf("%s", errMsg)
	}
	return result, nil
}

// newTestBridge creates a bridge over a fresh fake VM.
func newTestBridge() (*Bridge, *fakeVM) {
	vm := newFakeVM()
	return New(vm, nil), vm
}
