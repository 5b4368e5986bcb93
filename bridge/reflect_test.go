package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chazu/girder/value"
)

type Thermostat struct {
	Target  float64
	Label   string
	current float64
}

func (t *Thermostat) Adjust(delta float64) float64 {
	t.current += delta
	return t.current
}

func (t *Thermostat) Describe() (string, error) {
	if t.Label == "" {
		return "", errors.New("no label")
	}
	return fmt.Sprintf("%s at %.1f", t.Label, t.current), nil
}

func (t *Thermostat) Refresh(ctx context.Context) (float64, error) {
	if ctx == nil {
		return 0, errors.New("no context")
	}
	return t.current, nil
}

func TestRegisterTypeReflectsFieldsAndMethods(t *testing.T) {
	b, vm := newTestBridge()
	defer b.Close()

	name, err := b.RegisterType(&Thermostat{})
	if err != nil {
		t.Fatalf("RegisterType: %v", err)
	}
	if name != "Thermostat" {
		t.Errorf("class name = %q, want Thermostat", name)
	}

	def := vm.classes["Thermostat"]
	if def == nil {
		t.Fatal("class not submitted to the service")
	}
	for _, field := range []string{"Target", "Label"} {
		if _, ok := def.PublicVariables[field]; !ok {
			t.Errorf("exported field %s not reflected", field)
		}
	}
	if _, ok := def.PublicVariables["current"]; ok {
		t.Error("unexported field leaked into the class")
	}
	for _, method := range []string{"Adjust", "Describe", "Refresh"} {
		if _, ok := def.PublicMethods[method]; !ok {
			t.Errorf("exported method %s not reflected", method)
		}
	}
}

func TestRegisterTypeIsIdempotent(t *testing.T) {
	b, vm := newTestBridge()
	defer b.Close()

	if _, err := b.RegisterType(&Thermostat{}); err != nil {
		t.Fatalf("first RegisterType: %v", err)
	}
	if _, err := b.RegisterType(&Thermostat{}); err != nil {
		t.Fatalf("second RegisterType: %v", err)
	}
	if len(vm.classes) != 1 {
		t.Errorf("class defined %d times, want once", len(vm.classes))
	}
}

func TestRegisterTypeRejectsNonStructs(t *testing.T) {
	b, _ := newTestBridge()
	defer b.Close()

	var encErr *EncodingError
	if _, err := b.RegisterType(42); !errors.As(err, &encErr) {
		t.Errorf("got %v, want EncodingError", err)
	}
}

func TestReflectedFieldAccess(t *testing.T) {
	b, vm := newTestBridge()
	defer b.Close()

	therm := &Thermostat{Target: 21.5, Label: "hall"}
	obj, err := b.Codec().Encode(therm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := vm.readVariable(obj, "Target")
	if err != nil {
		t.Fatalf("readVariable: %v", err)
	}
	if !got.Equal(value.FloatValue(21.5)) {
		t.Errorf("Target = %v, want 21.5", got)
	}

	if err := vm.writeVariable(obj, "Label", value.StringValue("office")); err != nil {
		t.Fatalf("writeVariable: %v", err)
	}
	if therm.Label != "office" {
		t.Errorf("Label = %q, want write visible on the live instance", therm.Label)
	}
}

func TestEncodedStructValueIsFullyUsable(t *testing.T) {
	b, vm := newTestBridge()
	defer b.Close()

	// Passed by value, not by pointer; the stored instance must still be
	// addressable for setters and pointer-receiver methods.
	obj, err := b.Codec().Encode(Thermostat{Target: 21.5})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := vm.readVariable(obj, "Target")
	if err != nil {
		t.Fatalf("readVariable: %v", err)
	}
	if !got.Equal(value.FloatValue(21.5)) {
		t.Errorf("Target = %v, want 21.5", got)
	}

	if err := vm.writeVariable(obj, "Label", value.StringValue("attic")); err != nil {
		t.Fatalf("writeVariable: %v", err)
	}

	got, err = vm.CallMethod(obj, "Adjust", []value.Value{value.FloatValue(2)})
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if !got.Equal(value.FloatValue(2)) {
		t.Errorf("Adjust = %v, want 2", got)
	}

	instance, err := b.LookupObject(obj.Handle())
	if err != nil {
		t.Fatalf("LookupObject: %v", err)
	}
	if therm := instance.(*Thermostat); therm.Label != "attic" {
		t.Errorf("Label = %q, want the write visible on the stored instance", therm.Label)
	}
}

func TestReflectedMethodConvertsNumericArgs(t *testing.T) {
	b, vm := newTestBridge()
	defer b.Close()

	therm := &Thermostat{}
	obj, err := b.Codec().Encode(therm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// The payload carries an integer; the parameter is float64.
	got, err := vm.CallMethod(obj, "Adjust", []value.Value{value.IntegerValue(3)})
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if !got.Equal(value.FloatValue(3)) {
		t.Errorf("Adjust = %v, want 3", got)
	}
}

func TestReflectedMethodErrorPropagates(t *testing.T) {
	b, vm := newTestBridge()
	defer b.Close()

	obj, err := b.Codec().Encode(&Thermostat{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := vm.CallMethod(obj, "Describe", nil); err == nil {
		t.Error("Describe on unlabelled instance should fail")
	}
}

func TestContextFirstMethodBecomesCoroutine(t *testing.T) {
	b, vm := newTestBridge()
	defer b.Close()

	therm := &Thermostat{}
	obj, err := b.Codec().Encode(therm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	therm.Adjust(1.5)

	got, err := vm.CallMethod(obj, "Refresh", nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !got.Equal(value.FloatValue(1.5)) {
		t.Errorf("Refresh = %v, want 1.5", got)
	}

	// Declared arity excludes the context parameter.
	if method := vm.classes["Thermostat"].PublicMethods["Refresh"]; method.Argc != 0 {
		t.Errorf("Refresh argc = %d, want 0", method.Argc)
	}
}

func TestReflectedArgConversionRejectsMismatch(t *testing.T) {
	b, vm := newTestBridge()
	defer b.Close()

	obj, err := b.Codec().Encode(&Thermostat{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := vm.CallMethod(obj, "Adjust", []value.Value{value.StringValue("warm")}); err == nil {
		t.Error("string argument to a float64 parameter should fail")
	}
}
