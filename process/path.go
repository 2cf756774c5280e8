package process

import (
	"fmt"
)

// ReadPointer reads a pointer of the given width at addr.
func ReadPointer(proc Process, addr ProcessMemoryAddress, size int) (ProcessMemoryAddress, error) {
	if !ValidPointerSize(size) {
		return 0, fmt.Errorf("unsupported pointer size %d", size)
	}

	data, err := proc.ReadMemory(addr, ProcessMemorySize(size))
	if err != nil {
		return 0, fmt.Errorf("failed to read pointer at 0x%x: %w", addr, err)
	}

	ptr, ok := DecodePointer(data, size)
	if !ok {
		return 0, fmt.Errorf("short pointer read at 0x%x (%d of %d bytes): %w", addr, len(data), size, ErrInvalidPointer)
	}
	return ptr, nil
}
