package stage

import (
	"errors"
	"fmt"
)

// Kind tags why a stage call failed.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindDecode
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a tagged stage failure that keeps the original cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func transportError(format string, args ...any) error {
	return &Error{Kind: KindTransport, Err: fmt.Errorf(format, args...)}
}

func decodeError(format string, args ...any) error {
	return &Error{Kind: KindDecode, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the tag of err, treating untagged errors as transport
// failures.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransport
}
