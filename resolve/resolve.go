// Package resolve walks a pointer path forward to the address it describes.
package resolve

import (
	"fmt"

	"ptrtrail/pointerpath"
	"ptrtrail/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Resolver turns a PointerPath into a live address. A broken chain is an
// expected outcome and is reported as ok=false, never as an error.
type Resolver struct {
	pointerSize int
	log         *logger.Logger
}

// New creates a resolver that dereferences pointers of the given width.
// A width of zero selects the host pointer size.
func New(pointerSize int) *Resolver {
	if !process.ValidPointerSize(pointerSize) {
		pointerSize = process.HostPointerSize
	}
	return &Resolver{
		pointerSize: pointerSize,
		log:         logger.NewLogger(coloransi.Color(coloransi.Blue, coloransi.ColorOrange, "resolve")),
	}
}

func (r *Resolver) PointerSize() int {
	return r.pointerSize
}

// Start returns the address the chain begins at: the module load address plus
// the base offset, or the base offset itself for external paths.
func (r *Resolver) Start(modules []process.Module, path pointerpath.PointerPath) (process.ProcessMemoryAddress, bool) {
	if path.IsExternal() {
		return process.ProcessMemoryAddress(path.BaseOffset), true
	}

	module, ok := process.FindModule(modules, path.ModuleName)
	if !ok {
		r.log.Debugln("module not found:", path.ModuleName)
		return 0, false
	}
	return offsetAddress(module.Base, path.BaseOffset), true
}

// Resolve follows path through proc's memory. For each offset a pointer is read
// at the current address, then the offset is added to it.
func (r *Resolver) Resolve(proc process.Process, modules []process.Module, path pointerpath.PointerPath) (process.ProcessMemoryAddress, bool) {
	current, ok := r.Start(modules, path)
	if !ok {
		return 0, false
	}

	for i, offset := range path.Offsets {
		ptr, err := process.ReadPointer(proc, current, r.pointerSize)
		if err != nil {
			r.log.Debugln(fmt.Sprintf("broken chain at hop %d (0x%x):", i, uint64(current)), err)
			return 0, false
		}
		if ptr == 0 {
			r.log.Debugln(fmt.Sprintf("broken chain at hop %d: null pointer at 0x%x", i, uint64(current)))
			return 0, false
		}
		current = offsetAddress(ptr, int64(offset))
	}

	return current, true
}

// Trace is Resolve with every intermediate address recorded, for display
func (r *Resolver) Trace(proc process.Process, modules []process.Module, path pointerpath.PointerPath) ([]process.ProcessMemoryAddress, bool) {
	current, ok := r.Start(modules, path)
	if !ok {
		return nil, false
	}

	hops := []process.ProcessMemoryAddress{current}
	for _, offset := range path.Offsets {
		ptr, err := process.ReadPointer(proc, current, r.pointerSize)
		if err != nil || ptr == 0 {
			return hops, false
		}
		current = offsetAddress(ptr, int64(offset))
		hops = append(hops, current)
	}
	return hops, true
}

func offsetAddress(base process.ProcessMemoryAddress, offset int64) process.ProcessMemoryAddress {
	return process.ProcessMemoryAddress(int64(base) + offset)
}
