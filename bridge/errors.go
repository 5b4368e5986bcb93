package bridge

import (
	"errors"
	"fmt"
)

// ErrUnknownCallable indicates a dispatch identifier with no registered entry
var ErrUnknownCallable = errors.New("unknown callable identifier")

// ErrUnknownHandle indicates an instance handle with no live store entry.
// Looking one up is a programming error and always fails loudly.
var ErrUnknownHandle = errors.New("unknown instance handle")

// ErrClassConflict indicates two distinct host types registered under the
// same class name.
var ErrClassConflict = errors.New("class name already registered to a different type")

// ErrPoolStopped resolves the promise of a queued task abandoned by pool
// shutdown before any worker dequeued it.
var ErrPoolStopped = errors.New("async pool stopped")

// EncodingError reports a host value whose shape the codec cannot classify.
type EncodingError struct {
	GoType string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode value of type %s", e.GoType)
}

// ArityError reports a declared/actual parameter count mismatch, detected at
// call time.
type ArityError struct {
	Declared int
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("expected %d arguments, got %d", e.Declared, e.Got)
}

// HostCallError wraps a failure raised by a dispatched host callable,
// including recovered panics. Only its message crosses the boundary.
type HostCallError struct {
	Wrapped error
}

func (e *HostCallError) Error() string {
	return fmt.Sprintf("host callable failed: %v", e.Wrapped)
}

func (e *HostCallError) Unwrap() error {
	return e.Wrapped
}

// VMError reports a failure surfaced by the VM for a host-originated
// operation, preserving the originating message.
type VMError struct {
	Op      string
	Message string
}

func (e *VMError) Error() string {
	return fmt.Sprintf("vm %s failed: %s", e.Op, e.Message)
}
