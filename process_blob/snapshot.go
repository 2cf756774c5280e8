package process_blob

import (
	"fmt"

	"ptrtrail/process"
)

// Snapshot is an immutable copy of a span of target memory together with the
// virtual address it was read from. It is never mutated after construction.
type Snapshot struct {
	baseaddress process.ProcessMemoryAddress
	data        []byte
}

// NewSnapshot wraps data read at baseAddress. The slice is owned by the snapshot.
func NewSnapshot(baseAddress process.ProcessMemoryAddress, data []byte) *Snapshot {
	return &Snapshot{
		baseaddress: baseAddress,
		data:        data,
	}
}

// Capture reads size bytes at base from proc into a new snapshot. When the
// span cannot be read in one piece, each readable region overlapping it is
// read separately and the holes are left zero.
func Capture(proc process.Process, base process.ProcessMemoryAddress, size process.ProcessMemorySize) (*Snapshot, error) {
	data, err := proc.ReadMemory(base, size)
	if err == nil && len(data) == int(size) {
		return NewSnapshot(base, data), nil
	}
	if err == nil {
		err = fmt.Errorf("short read %d of %d bytes", len(data), uint(size))
	}

	mm, mmErr := proc.GetMemoryMap()
	if mmErr != nil {
		return nil, fmt.Errorf("capture 0x%x (%d bytes): %w", uint64(base), uint(size), err)
	}

	buf := make([]byte, size)
	end := uint64(base) + uint64(size)
	pieces := 0
	for _, region := range mm {
		if !region.IsReadable() {
			continue
		}
		start, stop := max(uint64(base), region.Address), min(end, region.End())
		if start >= stop {
			continue
		}
		chunk, err := proc.ReadMemory(process.ProcessMemoryAddress(start), process.ProcessMemorySize(stop-start))
		if err != nil {
			continue
		}
		copy(buf[start-uint64(base):], chunk)
		pieces++
	}

	if pieces == 0 {
		return nil, fmt.Errorf("capture 0x%x (%d bytes): %w", uint64(base), uint(size), err)
	}
	return NewSnapshot(base, buf), nil
}

func (s *Snapshot) Base() process.ProcessMemoryAddress {
	return s.baseaddress
}

func (s *Snapshot) Len() int {
	return len(s.data)
}

// End returns the first address past the snapshot
func (s *Snapshot) End() process.ProcessMemoryAddress {
	return s.baseaddress + process.ProcessMemoryAddress(len(s.data))
}

// Data returns the raw bytes. Callers must not modify them.
func (s *Snapshot) Data() []byte {
	return s.data
}

func (s *Snapshot) Contains(addr process.ProcessMemoryAddress) bool {
	return addr >= s.baseaddress && addr < s.End()
}

// AddressOf converts a snapshot-relative offset to an absolute address
func (s *Snapshot) AddressOf(offset int) process.ProcessMemoryAddress {
	return s.baseaddress + process.ProcessMemoryAddress(offset)
}

// ReadMemory returns a bounded sub-slice of the snapshot
func (s *Snapshot) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if addr < s.baseaddress || uint64(addr-s.baseaddress)+uint64(size) > uint64(len(s.data)) {
		return nil, process.ErrAddressNotMapped
	}
	offset := uint64(addr - s.baseaddress)
	return s.data[offset : offset+uint64(size)], nil
}

// PointerAt decodes a pointer of the given width at a snapshot-relative offset
func (s *Snapshot) PointerAt(offset int, size int) (process.ProcessMemoryAddress, bool) {
	if offset < 0 || offset+size > len(s.data) {
		return 0, false
	}
	return process.DecodePointer(s.data[offset:], size)
}
