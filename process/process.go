// Package process provides the types and the narrow accessor interface used to
// read the memory of another process.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrAccessDenied is returned when the target process cannot be opened for reading.
	ErrAccessDenied = errors.New("access denied")

	ErrInvalidPointer = errors.New("invalid pointer read")
)
