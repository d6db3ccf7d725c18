package filter

import "fmt"

// ErrorKind classifies an IR rejection. Kinds are stable across
// backends.
type ErrorKind string

// Rejection kinds.
const (
	UnknownField    ErrorKind = "UnknownField"
	IllegalOperator ErrorKind = "IllegalOperator"
	BadValueShape   ErrorKind = "BadValueShape"
	BadEnumValue    ErrorKind = "BadEnumValue"
	BadHaving       ErrorKind = "BadHaving"
)

// Error is an IR rejection: the kind, the JSON pointer of the offending
// element, and a human-readable message.
type Error struct {
	Kind    ErrorKind
	Path    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
}

// Is reports kind equality, so callers can match rejections with
// [errors.Is] against a kind-only *Error.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}

	return other.Kind == e.Kind && (other.Path == "" || other.Path == e.Path)
}

func newError(kind ErrorKind, path, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	}
}

// Warning records a non-fatal auto-correction applied during
// validation. Warnings are surfaced in response metadata.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}
