// Package vmapi declares the service surface of the embedded VM as consumed
// by the bridge. The VM itself is an external collaborator; the bridge only
// depends on this interface and on the payload contract of DispatchFunc.
package vmapi

import "github.com/chazu/girder/value"

// DispatchFunc is the single entry point the VM uses to invoke a registered
// host callable. The argument payload is a JSON array of boundary values;
// the returned bytes are a JSON {"result": ..., "error": ...} envelope.
// Implementations must never panic.
type DispatchFunc func(id string, jsonArgs string) []byte

// ClassVariable describes one variable member of a VM class. Getter and
// setter dispatch identifiers may be empty for plain storage variables.
type ClassVariable struct {
	Name     string
	Value    value.Value
	Locked   bool
	GetterID string
	SetterID string
}

// ClassMethod describes one callable member of a VM class. Argc is the
// declared parameter count excluding the receiver handle.
type ClassMethod struct {
	Name       string
	Argc       int
	DispatchID string
}

// ClassDefinition is a complete VM-side class description. Member payloads
// carry the receiver's instance handle as their first element, followed by
// the declared arguments. Built once per host type, then immutable.
type ClassDefinition struct {
	Name             string
	Constructor      *ClassMethod
	PublicVariables  map[string]*ClassVariable
	PrivateVariables map[string]*ClassVariable
	SharedVariables  map[string]*ClassVariable
	PublicMethods    map[string]*ClassMethod
	PrivateMethods   map[string]*ClassMethod

	// Dispatch resolves every member's DispatchID/GetterID/SetterID.
	Dispatch DispatchFunc
}

// NewClassDefinition creates an empty class definition with allocated member
// tables.
func NewClassDefinition(name string) *ClassDefinition {
	return &ClassDefinition{
		Name:             name,
		PublicVariables:  make(map[string]*ClassVariable),
		PrivateVariables: make(map[string]*ClassVariable),
		SharedVariables:  make(map[string]*ClassVariable),
		PublicMethods:    make(map[string]*ClassMethod),
		PrivateMethods:   make(map[string]*ClassMethod),
	}
}

// Service is the VM operation surface the bridge drives. All calls must be
// issued from a single goroutine; the bridge's worker enforces this.
type Service interface {
	DefineVariable(name string, val value.Value, constant bool) error
	DefineFunction(id, name string, argc int, entry DispatchFunc) error
	DefineClass(def *ClassDefinition) error

	// NewObjectInstance allocates a VM-side instance of a defined class,
	// running its constructor dispatch with no arguments, and returns the
	// instance's object handle. Handles are never reused within a process
	// run.
	NewObjectInstance(className string) (value.Value, error)

	Call(name string, args []value.Value) (value.Value, error)
	CallMethod(receiver value.Value, name string, args []value.Value) (value.Value, error)
	Execute(source string) (value.Value, error)

	GetVariable(name string) (value.Value, error)
	SetVariable(name string, val value.Value) error

	// SetFallbackHandler installs a dispatch entry the VM invokes when a
	// call names no defined function. The payload carries the attempted
	// function name as its first element, followed by the call arguments.
	SetFallbackHandler(id string, entry DispatchFunc) error
}
