package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Wire tags of the document store's REST representation.
const (
	TagNull    = "nullValue"
	TagBool    = "booleanValue"
	TagInt     = "integerValue"
	TagDouble  = "doubleValue"
	TagString  = "stringValue"
	TagArray   = "arrayValue"
	TagMap     = "mapValue"

	keyValues = "values"
	keyFields = "fields"
)

// ToWire converts a value into a JSON-ready tagged structure, e.g.
// Int(5) becomes {"integerValue": "5"}.
func ToWire(v Value) (map[string]any, error) {
	switch t := v.(type) {
	case Null:
		return map[string]any{TagNull: nil}, nil
	case Bool:
		return map[string]any{TagBool: bool(t)}, nil
	case Int:
		return map[string]any{TagInt: strconv.FormatInt(int64(t), 10)}, nil
	case Float:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &UnsupportedValueKindError{Kind: fmt.Sprintf("non-finite float %v", f)}
		}
		return map[string]any{TagDouble: f}, nil
	case String:
		return map[string]any{TagString: string(t)}, nil
	case List:
		values := make([]any, len(t))
		for i, item := range t {
			w, err := ToWire(item)
			if err != nil {
				return nil, err
			}
			values[i] = w
		}
		return map[string]any{TagArray: map[string]any{keyValues: values}}, nil
	case Map:
		fields, err := FieldsToWire(t)
		if err != nil {
			return nil, err
		}
		return map[string]any{TagMap: map[string]any{keyFields: fields}}, nil
	}
	return nil, &UnsupportedValueKindError{Kind: fmt.Sprintf("%T", v)}
}

// FieldsToWire converts a document body into its JSON-ready "fields" object.
func FieldsToWire(m Map) (map[string]any, error) {
	fields := make(map[string]any, len(m))
	for k, item := range m {
		w, err := ToWire(item)
		if err != nil {
			return nil, err
		}
		fields[k] = w
	}
	return fields, nil
}

// MarshalValue encodes a single value as wire JSON.
func MarshalValue(v Value) ([]byte, error) {
	w, err := ToWire(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// MarshalFields encodes a document body as a wire JSON "fields" object.
func MarshalFields(m Map) ([]byte, error) {
	fields, err := FieldsToWire(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalValue parses one tagged wire value. A value with no tag, more than
// one tag, or a tag outside the supported set fails with *UnknownTagError.
func UnmarshalValue(data []byte) (Value, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, &UnknownTagError{Reason: fmt.Sprintf("malformed wire value: %v", err)}
	}
	if len(tagged) != 1 {
		tags := make([]string, 0, len(tagged))
		for k := range tagged {
			tags = append(tags, k)
		}
		return nil, &UnknownTagError{Tag: fmt.Sprint(tags), Reason: "expected exactly one tag"}
	}

	for tag, payload := range tagged {
		switch tag {
		case TagNull:
			return Null{}, nil
		case TagBool:
			var b bool
			if err := json.Unmarshal(payload, &b); err != nil {
				return nil, &UnknownTagError{Tag: tag, Reason: err.Error()}
			}
			return Bool(b), nil
		case TagInt:
			return parseInt(payload)
		case TagDouble:
			return parseDouble(payload)
		case TagString:
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return nil, &UnknownTagError{Tag: tag, Reason: err.Error()}
			}
			return String(s), nil
		case TagArray:
			var arr struct {
				Values []json.RawMessage `json:"values"`
			}
			if err := json.Unmarshal(payload, &arr); err != nil {
				return nil, &UnknownTagError{Tag: tag, Reason: err.Error()}
			}
			out := make(List, len(arr.Values))
			for i, raw := range arr.Values {
				item, err := UnmarshalValue(raw)
				if err != nil {
					return nil, err
				}
				out[i] = item
			}
			return out, nil
		case TagMap:
			var obj struct {
				Fields map[string]json.RawMessage `json:"fields"`
			}
			if err := json.Unmarshal(payload, &obj); err != nil {
				return nil, &UnknownTagError{Tag: tag, Reason: err.Error()}
			}
			return FieldsFromWire(obj.Fields)
		default:
			return nil, &UnknownTagError{Tag: tag}
		}
	}
	return nil, &UnknownTagError{Reason: "empty wire value"}
}

// FieldsFromWire parses the raw members of a "fields" object.
func FieldsFromWire(fields map[string]json.RawMessage) (Map, error) {
	out := make(Map, len(fields))
	for k, raw := range fields {
		item, err := UnmarshalValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = item
	}
	return out, nil
}

// UnmarshalFields parses a wire JSON "fields" object into a document body.
func UnmarshalFields(data []byte) (Map, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &UnknownTagError{Reason: fmt.Sprintf("malformed fields object: %v", err)}
	}
	return FieldsFromWire(fields)
}

func parseInt(payload json.RawMessage) (Value, error) {
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		// Some producers emit the integer unquoted.
		s = string(bytes.TrimSpace(payload))
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, &UnknownTagError{Tag: TagInt, Reason: fmt.Sprintf("invalid integer %q", s)}
	}
	return Int(i), nil
}

func parseDouble(payload json.RawMessage) (Value, error) {
	var f float64
	if err := json.Unmarshal(payload, &f); err == nil {
		return Float(f), nil
	}
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, &UnknownTagError{Tag: TagDouble, Reason: fmt.Sprintf("invalid double %s", payload)}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &UnknownTagError{Tag: TagDouble, Reason: fmt.Sprintf("invalid double %q", s)}
	}
	return Float(f), nil
}
