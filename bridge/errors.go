package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge error.
type Kind int

const (
	// KindDecode wraps an error from the Arrow IPC reader.
	KindDecode Kind = iota + 1
	// KindInternal reports a violated bridge invariant.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the only error type decode calls return.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindDecode && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind and message, so sentinels such as
// ErrIndexOutOfRange compare by value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg && t.Err == nil
}

// ErrIndexOutOfRange is returned when a chunk index is past the last chunk.
var ErrIndexOutOfRange = &Error{Kind: KindInternal, Msg: "Index out of range"}

// DecodeError wraps an error from the IPC reader.
func DecodeError(err error) *Error {
	return &Error{Kind: KindDecode, Msg: err.Error(), Err: err}
}

// InternalError creates an internal error with a formatted message.
func InternalError(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...)}
}

// IsDecodeError reports whether err came from the IPC reader.
func IsDecodeError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindDecode
}

// Message returns the text that crosses the boundary for err. Errors from
// outside the taxonomy are reported as internal.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return InternalError("%v", err).Error()
}
