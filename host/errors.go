package host

import (
	"errors"
	"fmt"
)

// MaxInputSize is the maximum IPC payload staged in guest memory (100MB).
// This prevents memory exhaustion from oversized inputs.
const MaxInputSize = 100 * 1024 * 1024

var (
	// ErrInputTooLarge is returned when input exceeds MaxInputSize.
	ErrInputTooLarge = errors.New("input size exceeds maximum allowed")
	// ErrClosed is returned by calls on a closed decoder.
	ErrClosed = errors.New("decoder is closed")
	// ErrMissingExport is returned when the module lacks a required export.
	ErrMissingExport = errors.New("module is missing a required export")
)

// Error is a failure reported by the guest. Only the message crosses the
// boundary.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsGuestError reports whether err was reported by the guest rather than
// raised on the host.
func IsGuestError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
