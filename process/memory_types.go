package process

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}

// HostPointerSize is the pointer width of the running binary. It is used for
// every dereference unless a component is configured otherwise.
const HostPointerSize = strconv.IntSize / 8

// Bounds of the address range treated as plausible user-space memory.
const (
	MinUserAddress ProcessMemoryAddress = 0x10000
	MaxUserAddress ProcessMemoryAddress = 0x7FFFFFFFFFFF
)

// IsPlausibleAddress reports whether addr could be a user-space pointer
func IsPlausibleAddress(addr ProcessMemoryAddress) bool {
	return addr > MinUserAddress && addr < MaxUserAddress
}

// DecodePointer interprets the first size bytes of data as a little-endian
// pointer. size must be 4 or 8 and data must hold at least size bytes.
func DecodePointer(data []byte, size int) (ProcessMemoryAddress, bool) {
	if len(data) < size {
		return 0, false
	}
	switch size {
	case 4:
		return ProcessMemoryAddress(binary.LittleEndian.Uint32(data)), true
	case 8:
		return ProcessMemoryAddress(binary.LittleEndian.Uint64(data)), true
	}
	return 0, false
}

// EncodePointer is the inverse of DecodePointer
func EncodePointer(addr ProcessMemoryAddress, size int) []byte {
	buf := make([]byte, size)
	switch size {
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(addr))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(addr))
	}
	return buf
}

// ValidPointerSize reports whether size is a supported pointer width
func ValidPointerSize(size int) bool {
	return size == 4 || size == 8
}
