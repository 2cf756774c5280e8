package process

import (
	"ptrtrail/process/memory_map"
)

// Process is the interface that defines read-only operations on a system process.
// Implementations never request or perform writes.
type Process interface {
	// Open opens a process with the given PID for memory reads
	Open(pid ProcessID) error

	// Close closes the process and releases the OS handle
	Close() error

	// GetPID returns the process ID, zero when not open
	GetPID() ProcessID

	// Name returns the executable name of the process
	Name() string

	// UpdateMemoryMap refreshes the memory map and module table
	UpdateMemoryMap() error

	// GetMemoryMap returns a copy of the current memory map
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)

	// Modules returns the loaded module table
	Modules() ([]Module, error)

	// IsValidAddress checks if the given memory address is mapped and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// ReadMemory reads size bytes at addr
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)
}
