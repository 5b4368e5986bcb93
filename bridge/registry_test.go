package bridge

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/girder/value"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	id := r.Register(2, func(args []interface{}) (interface{}, error) {
		return args[0], nil
	})
	if id == "" {
		t.Fatal("Register returned empty identifier")
	}

	fn, argc, ok := r.Lookup(id)
	if !ok {
		t.Fatal("Lookup failed for registered identifier")
	}
	if argc != 2 {
		t.Errorf("argc = %d, want 2", argc)
	}
	result, err := fn([]interface{}{int64(1), int64(2)})
	if err != nil || result != int64(1) {
		t.Errorf("callable: got %v, %v", result, err)
	}
}

func TestRegisterGeneratesUniqueIdentifiers(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.Register(0, func(args []interface{}) (interface{}, error) { return nil, nil })
		if seen[id] {
			t.Fatalf("identifier %s generated twice", id)
		}
		seen[id] = true
	}
	if r.Len() != 100 {
		t.Errorf("Len = %d, want 100", r.Len())
	}
}

func TestRemoveEvictsEntry(t *testing.T) {
	r := NewRegistry()
	id := r.Register(0, func(args []interface{}) (interface{}, error) { return nil, nil })
	r.Remove(id)
	if _, _, ok := r.Lookup(id); ok {
		t.Error("Lookup should fail after Remove")
	}
}

func TestDispatchSuccess(t *testing.T) {
	r := NewRegistry()
	store := NewInstanceStore()
	codec := NewCodec(store, nil)
	d := NewDispatcher(r, codec)

	id := r.Register(2, func(args []interface{}) (interface{}, error) {
		return args[0].(int64) + args[1].(int64), nil
	})

	payload, _ := value.MarshalArgs([]value.Value{value.IntegerValue(2), value.IntegerValue(3)})
	result, errMsg, err := value.ParseResult(d.Dispatch(id, payload))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if errMsg != "" {
		t.Fatalf("dispatch failed: %s", errMsg)
	}
	if !result.Equal(value.IntegerValue(5)) {
		t.Errorf("got %v, want 5", result)
	}
}

func TestDispatchUnknownIdentifier(t *testing.T) {
	d := NewDispatcher(NewRegistry(), NewCodec(NewInstanceStore(), nil))
	_, errMsg, err := value.ParseResult(d.Dispatch("no-such-id", "[]"))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if !strings.Contains(errMsg, "unknown callable identifier") {
		t.Errorf("got %q, want unknown callable error", errMsg)
	}
}

func TestDispatchArityMismatch(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, NewCodec(NewInstanceStore(), nil))
	id := r.Register(2, func(args []interface{}) (interface{}, error) { return nil, nil })

	_, errMsg, err := value.ParseResult(d.Dispatch(id, "[1]"))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	want := (&ArityError{Declared: 2, Got: 1}).Error()
	if errMsg != want {
		t.Errorf("got %q, want %q", errMsg, want)
	}
}

func TestDispatchCallableErrorIsStructured(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, NewCodec(NewInstanceStore(), nil))
	id := r.Register(0, func(args []interface{}) (interface{}, error) {
		return nil, errors.New("kaboom")
	})

	_, errMsg, err := value.ParseResult(d.Dispatch(id, "[]"))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if !strings.Contains(errMsg, "kaboom") {
		t.Errorf("got %q, want originating message preserved", errMsg)
	}
}

func TestDispatchCallablePanicIsStructured(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, NewCodec(NewInstanceStore(), nil))
	id := r.Register(0, func(args []interface{}) (interface{}, error) {
		panic("unexpected state")
	})

	_, errMsg, err := value.ParseResult(d.Dispatch(id, "[]"))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if !strings.Contains(errMsg, "unexpected state") {
		t.Errorf("got %q, want panic message funnelled into payload", errMsg)
	}
}

func TestDispatchMalformedPayload(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, NewCodec(NewInstanceStore(), nil))
	id := r.Register(0, func(args []interface{}) (interface{}, error) { return nil, nil })

	_, errMsg, err := value.ParseResult(d.Dispatch(id, "not json"))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if errMsg == "" {
		t.Error("malformed payload should produce a structured error")
	}
}
