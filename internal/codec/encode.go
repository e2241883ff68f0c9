package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Encode converts a native Go value into its wire representation.
//
// Accepted inputs are nil, bool, every integer and float kind, json.Number,
// string, []any, map[string]any, a few common typed slices and maps, and
// Value itself. Go integers always encode to Int and Go floats always
// encode to Float, so 5 and 5.0 survive a round trip with distinct tags.
// A json.Number without a fraction or exponent encodes to Int.
func Encode(v any) (Value, error) {
	return encode(v, "")
}

// EncodeMap encodes a string-keyed map of fields, as used for document bodies.
func EncodeMap(fields map[string]any) (Map, error) {
	out := make(Map, len(fields))
	for k, v := range fields {
		ev, err := encode(v, k)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

func encode(v any, path string) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(t), nil
	case int8:
		return Int(t), nil
	case int16:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(t), nil
	case uint16:
		return Int(t), nil
	case uint32:
		return Int(t), nil
	case uint:
		return encodeUint(uint64(t), path)
	case uint64:
		return encodeUint(t, path)
	case float32:
		return Float(t), nil
	case float64:
		return Float(t), nil
	case json.Number:
		return encodeNumber(t, path)
	case string:
		return String(t), nil
	case []any:
		out := make(List, len(t))
		for i, item := range t {
			ev, err := encode(item, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case []string:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = String(item)
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(t))
		for k, item := range t {
			ev, err := encode(item, keyPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case map[string]string:
		out := make(Map, len(t))
		for k, item := range t {
			out[k] = String(item)
		}
		return out, nil
	case []int:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Int(item)
		}
		return out, nil
	case []int64:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Int(item)
		}
		return out, nil
	case []float64:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Float(item)
		}
		return out, nil
	case []map[string]any:
		out := make(List, len(t))
		for i, item := range t {
			ev, err := encode(item, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	}
	return nil, &UnsupportedValueKindError{Path: path, Kind: fmt.Sprintf("%T", v)}
}

func encodeUint(u uint64, path string) (Value, error) {
	if u > math.MaxInt64 {
		return nil, &UnsupportedValueKindError{Path: path, Kind: "uint64 out of int64 range"}
	}
	return Int(int64(u)), nil
}

func encodeNumber(n json.Number, path string) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &UnsupportedValueKindError{Path: path, Kind: fmt.Sprintf("json.Number %q", s)}
	}
	return Float(f), nil
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func keyPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
