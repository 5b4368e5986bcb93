package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// HandleKey is the sentinel key marking an object handle inside a JSON
// payload. Both sides of the boundary agree on this key. The sentinel is
// in-band: a one-entry JSON object {"@handle": "<string>"} always decodes as
// an object handle, so a genuine one-entry mapping of that exact shape does
// not round-trip as a mapping. Mappings with more entries, or whose sentinel
// value is not a string, are unaffected.
const HandleKey = "@handle"

// MarshalJSON renders the value in its boundary payload form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case TypeNothing:
		return []byte("null"), nil
	case TypeInteger:
		return json.Marshal(v.IntVal)
	case TypeFloat:
		return json.Marshal(v.FloatVal)
	case TypeString:
		return json.Marshal(v.StrVal)
	case TypeBool:
		return json.Marshal(v.IntVal != 0)
	case TypeObject:
		return json.Marshal(map[string]string{HandleKey: v.HandleVal})
	case TypeSequence:
		if v.SeqVal == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.SeqVal)
	case TypeMapping:
		if v.MapVal == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.MapVal)
	}
	return nil, fmt.Errorf("cannot marshal value with tag %d", v.Type)
}

// UnmarshalJSON parses the boundary payload form back into a tagged value.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := fromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Nothing(), fmt.Errorf("parsing payload: %w", err)
	}
	return fromParsed(raw)
}

func fromParsed(raw interface{}) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Nothing(), nil
	case bool:
		return BoolValue(val), nil
	case string:
		return StringValue(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return IntegerValue(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return Nothing(), fmt.Errorf("parsing number %q: %w", val.String(), err)
		}
		return FloatValue(f), nil
	case []interface{}:
		elems := make([]Value, len(val))
		for i, e := range val {
			parsed, err := fromParsed(e)
			if err != nil {
				return Nothing(), err
			}
			elems[i] = parsed
		}
		return SequenceValue(elems), nil
	case map[string]interface{}:
		// A one-entry object under the sentinel key is an object handle
		if len(val) == 1 {
			if h, ok := val[HandleKey].(string); ok {
				return ObjectValue(h), nil
			}
		}
		entries := make(map[string]Value, len(val))
		for k, e := range val {
			parsed, err := fromParsed(e)
			if err != nil {
				return Nothing(), err
			}
			entries[k] = parsed
		}
		return MappingValue(entries), nil
	}
	return Nothing(), fmt.Errorf("unsupported payload shape %T", raw)
}

// MarshalArgs renders an ordered argument list as the textual payload passed
// through the dispatch entry point.
func MarshalArgs(args []Value) (string, error) {
	if args == nil {
		args = []Value{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshaling argument payload: %w", err)
	}
	return string(data), nil
}

// ParseArgs parses a textual argument payload into its ordered list.
func ParseArgs(payload string) ([]Value, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing argument payload: %w", err)
	}
	args := make([]Value, len(raw))
	for i, e := range raw {
		parsed, err := fromParsed(e)
		if err != nil {
			return nil, err
		}
		args[i] = parsed
	}
	return args, nil
}

// resultEnvelope is the wire form of a dispatch outcome. Exactly one of
// Result and Error is meaningful.
type resultEnvelope struct {
	Result *Value  `json:"result"`
	Error  *string `json:"error"`
}

// MarshalResult encodes a successful dispatch outcome.
func MarshalResult(v Value) []byte {
	data, err := json.Marshal(resultEnvelope{Result: &v})
	if err != nil {
		// The envelope is built from values we already marshaled once;
		// failure here means the sentinel encoding itself is broken.
		return MarshalError(fmt.Sprintf("marshaling result payload: %v", err))
	}
	return data
}

// MarshalError encodes a failed dispatch outcome. The message is the only
// thing that crosses the boundary; native errors never do.
func MarshalError(msg string) []byte {
	data, _ := json.Marshal(resultEnvelope{Error: &msg})
	return data
}

// ParseResult decodes a dispatch outcome. A non-empty errMsg means the call
// failed and the value is meaningless.
func ParseResult(data []byte) (result Value, errMsg string, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw struct {
		Result interface{} `json:"result"`
		Error  *string     `json:"error"`
	}
	if err := dec.Decode(&raw); err != nil {
		return Nothing(), "", fmt.Errorf("parsing result payload: %w", err)
	}
	if raw.Error != nil {
		return Nothing(), *raw.Error, nil
	}
	parsed, err := fromParsed(raw.Result)
	if err != nil {
		return Nothing(), "", err
	}
	return parsed, "", nil
}
