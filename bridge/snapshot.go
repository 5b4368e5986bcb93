package bridge

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/girder/value"
	"github.com/chazu/girder/vmapi"
)

// cborEncMode uses canonical options for deterministic snapshots.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ClassRecord is the snapshot form of a registered class: its member
// inventory, without dispatch identifiers, which are process-local.
type ClassRecord struct {
	Name      string   `cbor:"name"`
	Variables []string `cbor:"variables"`
	Methods   []string `cbor:"methods"`
}

// InstanceRecord is the snapshot form of one live instance: its handle,
// class and the variables whose values encode without registering further
// objects.
type InstanceRecord struct {
	Handle    string                 `cbor:"handle"`
	Class     string                 `cbor:"class"`
	Variables map[string]value.Value `cbor:"variables"`
}

// Snapshot captures the bridge's registration state at a point in time.
type Snapshot struct {
	Classes   []ClassRecord    `cbor:"classes"`
	Instances []InstanceRecord `cbor:"instances"`
}

// Snapshot captures all registered classes and live instances. Instance
// variables are read through their registered getter callables; variables
// without a getter, or whose values are opaque objects, are omitted.
func (b *Bridge) Snapshot() *Snapshot {
	snap := &Snapshot{}

	b.classMu.Lock()
	records := make([]*classRecord, 0, len(b.classes))
	for _, rec := range b.classes {
		records = append(records, rec)
	}
	b.classMu.Unlock()

	defs := make(map[string]*vmapi.ClassDefinition, len(records))
	for _, rec := range records {
		defs[rec.name] = rec.def
		snap.Classes = append(snap.Classes, classRecordSnapshot(rec.def))
	}
	sort.Slice(snap.Classes, func(i, j int) bool {
		return snap.Classes[i].Name < snap.Classes[j].Name
	})

	// Instance variables are read with a registrar-free codec so snapshots
	// never register new classes as a side effect
	plain := NewCodec(b.instances, nil)
	b.instances.Range(func(handle, className string, instance interface{}) bool {
		rec := InstanceRecord{
			Handle:    handle,
			Class:     className,
			Variables: make(map[string]value.Value),
		}
		if def, ok := defs[className]; ok {
			for name, cv := range def.PublicVariables {
				if cv.GetterID == "" {
					continue
				}
				fn, _, ok := b.registry.Lookup(cv.GetterID)
				if !ok {
					continue
				}
				raw, err := fn([]interface{}{handle})
				if err != nil {
					continue
				}
				encoded, err := plain.Encode(raw)
				if err != nil {
					continue
				}
				rec.Variables[name] = encoded
			}
		}
		snap.Instances = append(snap.Instances, rec)
		return true
	})
	sort.Slice(snap.Instances, func(i, j int) bool {
		return snap.Instances[i].Handle < snap.Instances[j].Handle
	})

	return snap
}

func classRecordSnapshot(def *vmapi.ClassDefinition) ClassRecord {
	rec := ClassRecord{Name: def.Name}
	for name := range def.PublicVariables {
		rec.Variables = append(rec.Variables, name)
	}
	for name := range def.PrivateVariables {
		rec.Variables = append(rec.Variables, name)
	}
	for name := range def.SharedVariables {
		rec.Variables = append(rec.Variables, name)
	}
	for name := range def.PublicMethods {
		rec.Methods = append(rec.Methods, name)
	}
	for name := range def.PrivateMethods {
		rec.Methods = append(rec.Methods, name)
	}
	sort.Strings(rec.Variables)
	sort.Strings(rec.Methods)
	return rec
}

// MarshalSnapshot serializes a snapshot to canonical CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &s, nil
}
