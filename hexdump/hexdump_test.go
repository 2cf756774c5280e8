package hexdump

import (
	"strings"
	"testing"

	"ptrtrail/process"
	"ptrtrail/process/memory_map"

	"github.com/google/go-cmp/cmp"
)

func TestDump(t *testing.T) {
	data := make([]byte, 20)
	copy(data, process.EncodePointer(0x10040, 8))
	copy(data[8:], process.EncodePointer(0x20010, 8))
	copy(data[16:], "Hi!\x00")

	options := Options{
		BytesPerLine: 16,
		PointerSize:  8,
		Modules:      []process.Module{{Name: "game.exe", Base: 0x10000, Size: 0x1000}},
		MemoryMap:    []memory_map.MemoryMapItem{{Address: 0x20000, Size: 0x100, Perms: "rw-p"}},
	}

	got := strings.Split(strings.TrimSuffix(Dump(0x30000, data, options), "\n"), "\n")
	want := []string{
		"0000000000030000  40 00 01 00 00 00 00 00 10 00 02 00 00 00 00 00 | @............... | game.exe+0x40 0x20010",
		"0000000000030010  48 69 21 00" + strings.Repeat("   ", 12) + " | Hi!.",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Dump mismatch (-want +got):\n%s", diff)
	}
}

func TestLabel(t *testing.T) {
	modules := []process.Module{{Name: "game.exe", Base: 0x10000, Size: 0x1000}}
	mm := []memory_map.MemoryMapItem{{Address: 0x20000, Size: 0x100}}

	tests := []struct {
		ptr    process.ProcessMemoryAddress
		want   string
		wantOK bool
	}{
		{0x10abc, "game.exe+0xabc", true},
		{0x20080, "0x20080", true},
		{0x20100, "", false},
		{0x40, "", false},
	}
	for _, tt := range tests {
		got, ok := Label(tt.ptr, modules, mm)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Label(0x%x) = (%q, %v), want (%q, %v)", uint64(tt.ptr), got, ok, tt.want, tt.wantOK)
		}
	}
}
