package process

import (
	"fmt"
	"strings"
)

// ProcessID represents a unique identifier for a process
type ProcessID int

// Module describes one loaded image in the target's address space
type Module struct {
	Name string               `json:"name"` // Base name, e.g. "game.exe"
	Path string               `json:"path"` // Full path when known
	Base ProcessMemoryAddress `json:"base"` // Load address
	Size ProcessMemorySize    `json:"size"` // Mapped size in bytes
}

func (m Module) String() string {
	return fmt.Sprintf("%s@%s+%#x", m.Name, m.Base.ToString(), uint64(m.Size))
}

// End returns the first address past the module image
func (m Module) End() ProcessMemoryAddress {
	return m.Base + ProcessMemoryAddress(m.Size)
}

// Contains reports whether addr lies inside the module image
func (m Module) Contains(addr ProcessMemoryAddress) bool {
	return addr >= m.Base && addr < m.End()
}

// FindModule looks a module up by name. Module names are matched case-insensitively.
func FindModule(modules []Module, name string) (Module, bool) {
	for _, m := range modules {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Module{}, false
}

// ModuleForAddress returns the module whose image contains addr
func ModuleForAddress(modules []Module, addr ProcessMemoryAddress) (Module, bool) {
	for _, m := range modules {
		if m.Contains(addr) {
			return m, true
		}
	}
	return Module{}, false
}
