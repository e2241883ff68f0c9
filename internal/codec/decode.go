package codec

// Decode converts a wire value back into a native Go value.
//
// Int decodes to int64, Float to float64, List to []any and Map to
// map[string]any. Decode(Encode(v)) equals v for every value built from
// those types plus nil, bool and string.
func Decode(v Value) (any, error) {
	switch t := v.(type) {
	case Null:
		return nil, nil
	case Bool:
		return bool(t), nil
	case Int:
		return int64(t), nil
	case Float:
		return float64(t), nil
	case String:
		return string(t), nil
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			dv, err := Decode(item)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	case Map:
		return DecodeMap(t)
	case nil:
		return nil, &UnknownTagError{Reason: "missing value"}
	default:
		return nil, &UnknownTagError{Tag: "unrecognized"}
	}
}

// DecodeMap decodes every field of a map value.
func DecodeMap(m Map) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, item := range m {
		dv, err := Decode(item)
		if err != nil {
			return nil, err
		}
		out[k] = dv
	}
	return out, nil
}
