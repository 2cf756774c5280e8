// Package pointerpath defines the replayable description of where a value lives:
// a module, an offset from its load address and a chain of dereferences.
package pointerpath

import (
	"fmt"
	"strconv"
	"strings"
)

// ExternalModule marks a path whose base offset is an absolute address outside
// any known module. Such paths only hold for the current run of the target.
const ExternalModule = "[EXTERNAL]"

// PointerPath starts at ModuleName's load address plus BaseOffset, dereferences
// a pointer, adds Offsets[0], dereferences, adds Offsets[1], and so on.
//
// For ExternalModule paths BaseOffset is itself the absolute start address.
type PointerPath struct {
	ModuleName string  `json:"module_name"`
	BaseOffset int64   `json:"base_offset"`
	Offsets    []int32 `json:"offsets"`
}

// External builds a path rooted at an absolute address
func External(addr uint64, offsets ...int32) PointerPath {
	return PointerPath{ModuleName: ExternalModule, BaseOffset: int64(addr), Offsets: offsets}
}

func (p PointerPath) IsExternal() bool {
	return p.ModuleName == ExternalModule
}

// Depth is the number of pointer hops in the chain
func (p PointerPath) Depth() int {
	return len(p.Offsets)
}

// Equal reports whether both paths name the same module, base and chain
func (p PointerPath) Equal(o PointerPath) bool {
	if p.ModuleName != o.ModuleName || p.BaseOffset != o.BaseOffset || len(p.Offsets) != len(o.Offsets) {
		return false
	}
	for i := range p.Offsets {
		if p.Offsets[i] != o.Offsets[i] {
			return false
		}
	}
	return true
}

// Key identifies a path for deduplication
func (p PointerPath) Key() string {
	var sb strings.Builder
	sb.WriteString(p.ModuleName)
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(p.BaseOffset, 16))
	for _, off := range p.Offsets {
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatInt(int64(off), 16))
	}
	return sb.String()
}

// String renders the path in the human grammar accepted by Parse:
//
//	"game.exe"+1A2B3C, 40, 1F8, 10
func (p PointerPath) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%q+%s", p.ModuleName, formatHex(p.BaseOffset))
	for _, off := range p.Offsets {
		sb.WriteString(", ")
		sb.WriteString(formatHex(int64(off)))
	}
	return sb.String()
}

// Clone returns a copy that shares no memory with p
func (p PointerPath) Clone() PointerPath {
	c := p
	c.Offsets = append([]int32(nil), p.Offsets...)
	return c
}

func formatHex(v int64) string {
	if v < 0 {
		return "-" + strings.ToUpper(strconv.FormatUint(uint64(-v), 16))
	}
	return strings.ToUpper(strconv.FormatInt(v, 16))
}
