// Package hexdump renders target memory for inspection, labelling every
// aligned value that points into a module or mapped region.
package hexdump

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"ptrtrail/process"
	"ptrtrail/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Options controls the rendering
type Options struct {
	BytesPerLine int
	PointerSize  int

	// Modules and MemoryMap are used to label pointers; either may be nil
	Modules   []process.Module
	MemoryMap []memory_map.MemoryMapItem

	// Color wraps pointer labels in ANSI escapes
	Color bool
}

func DefaultOptions() Options {
	return Options{
		BytesPerLine: 16,
		PointerSize:  process.HostPointerSize,
		Color:        true,
	}
}

// Dump renders data read at base
func Dump(base process.ProcessMemoryAddress, data []byte, options Options) string {
	var buffer bytes.Buffer
	DumpToWriter(&buffer, base, data, options)
	return buffer.String()
}

// DumpToWriter writes one line per BytesPerLine bytes: address, hex bytes,
// ASCII, then a label for each pointer-sized value on the line that points
// somewhere mapped.
func DumpToWriter(writer io.Writer, base process.ProcessMemoryAddress, data []byte, options Options) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if !process.ValidPointerSize(options.PointerSize) {
		options.PointerSize = process.HostPointerSize
	}

	for offset := 0; offset < len(data); offset += options.BytesPerLine {
		end := min(offset+options.BytesPerLine, len(data))
		formatLine(writer, base+process.ProcessMemoryAddress(offset), data[offset:end], options)
	}
}

func formatLine(writer io.Writer, addr process.ProcessMemoryAddress, line []byte, options Options) {
	fmt.Fprintf(writer, "%016x  ", uint64(addr))

	hex := make([]string, 0, options.BytesPerLine)
	for _, b := range line {
		hex = append(hex, fmt.Sprintf("%02x", b))
	}
	for len(hex) < options.BytesPerLine {
		hex = append(hex, "  ")
	}
	fmt.Fprint(writer, strings.Join(hex, " "), " | ")

	for _, b := range line {
		if b >= 0x20 && b < 0x7f {
			fmt.Fprintf(writer, "%c", b)
		} else {
			fmt.Fprint(writer, ".")
		}
	}

	var labels []string
	for i := 0; i+options.PointerSize <= len(line); i += options.PointerSize {
		ptr, _ := process.DecodePointer(line[i:], options.PointerSize)
		if label, ok := Label(ptr, options.Modules, options.MemoryMap); ok {
			if options.Color {
				label = coloransi.Color(coloransi.Yellow, coloransi.Black, label)
			}
			labels = append(labels, label)
		}
	}
	if len(labels) > 0 {
		fmt.Fprint(writer, " | ", strings.Join(labels, " "))
	}

	fmt.Fprintln(writer)
}

// Label names where ptr points: "module+0xoff" inside a module, the bare
// address inside any other mapped region
func Label(ptr process.ProcessMemoryAddress, modules []process.Module, memoryMap []memory_map.MemoryMapItem) (string, bool) {
	if !process.IsPlausibleAddress(ptr) {
		return "", false
	}
	if m, ok := process.ModuleForAddress(modules, ptr); ok {
		return fmt.Sprintf("%s+0x%x", m.Name, uint64(ptr-m.Base)), true
	}
	if memory_map.IsValidAddress(uint64(ptr), memoryMap) {
		return fmt.Sprintf("0x%x", uint64(ptr)), true
	}
	return "", false
}
