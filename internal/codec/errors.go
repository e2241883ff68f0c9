package codec

import "fmt"

// UnsupportedValueKindError is returned by Encode for a Go value that has no wire representation.
type UnsupportedValueKindError struct {
	Path string
	Kind string
}

func (e *UnsupportedValueKindError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("unsupported value kind: %s", e.Kind)
	}
	return fmt.Sprintf("unsupported value kind at %s: %s", e.Path, e.Kind)
}

// UnknownTagError is returned when a wire value carries no recognized tag,
// more than one tag, or a tag whose payload is malformed.
type UnknownTagError struct {
	Tag    string
	Reason string
}

func (e *UnknownTagError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unknown wire tag: %q", e.Tag)
	}
	return fmt.Sprintf("unknown wire tag %q: %s", e.Tag, e.Reason)
}
