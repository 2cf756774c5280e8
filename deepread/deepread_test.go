package deepread

import (
	"strings"
	"testing"

	"ptrtrail/process"
	"ptrtrail/process_blob"

	"github.com/google/go-cmp/cmp"
)

const regionBase = process.ProcessMemoryAddress(0x20000)

func newRegion(t *testing.T) ([]byte, *process_blob.ProcessDump) {
	t.Helper()
	data := make([]byte, 0x1000)
	dump := process_blob.NewProcessDump()
	dump.AddRegion(regionBase, data, "rw-p")
	return data, dump
}

func putPointer(data []byte, at, value process.ProcessMemoryAddress) {
	copy(data[at-regionBase:], process.EncodePointer(value, 8))
}

func putBytes(data []byte, at process.ProcessMemoryAddress, b []byte) {
	copy(data[at-regionBase:], b)
}

func TestReadStringDirect(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"utf-16le", EncodeUTF16LE("Hello"), "Hello"},
		{"utf-8", []byte("Player One\x00trailing"), "Player One"},
		{"too short", []byte("Hi\x00"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, dump := newRegion(t)
			putBytes(data, 0x20800, tt.raw)

			got := New(WithPointerSize(8)).ReadString(dump, 0x20800)
			if got != tt.want {
				t.Errorf("ReadString = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadStringFollowsPointers(t *testing.T) {
	const text = process.ProcessMemoryAddress(0x20800)

	for hops := 0; hops <= 5; hops++ {
		data, dump := newRegion(t)
		putBytes(data, text, EncodeUTF16LE("Hello"))

		addr := text
		for i := 0; i < hops; i++ {
			slot := regionBase + process.ProcessMemoryAddress(i*0x100)
			putPointer(data, slot, addr)
			addr = slot
		}

		want := "Hello"
		if hops > 4 {
			want = ""
		}
		got := New(WithPointerSize(8), WithMaxDepth(4)).ReadString(dump, addr)
		if got != want {
			t.Errorf("%d hops: ReadString = %q, want %q", hops, got, want)
		}
	}
}

func TestReadStringTerminatesOnCycle(t *testing.T) {
	data, dump := newRegion(t)
	putPointer(data, 0x20000, 0x20100)
	putPointer(data, 0x20100, 0x20000)

	if got := New(WithPointerSize(8), WithMaxDepth(50)).ReadString(dump, 0x20000); got != "" {
		t.Errorf("ReadString on cycle = %q, want empty", got)
	}

	putPointer(data, 0x20200, 0x20200)
	if got := New(WithPointerSize(8)).ReadString(dump, 0x20200); got != "" {
		t.Errorf("ReadString on self pointer = %q, want empty", got)
	}
}

func TestReadStringUnreadable(t *testing.T) {
	_, dump := newRegion(t)
	r := New(WithPointerSize(8))

	for _, addr := range []process.ProcessMemoryAddress{0, 0x900000} {
		if got := r.ReadString(dump, addr); got != "" {
			t.Errorf("ReadString(0x%x) = %q, want empty", uint64(addr), got)
		}
	}
}

func TestReadStringNearRegionEnd(t *testing.T) {
	data, dump := newRegion(t)
	at := regionBase + process.ProcessMemoryAddress(len(data)-16)
	putBytes(data, at, []byte("tail text\x00"))

	if got := New(WithPointerSize(8)).ReadString(dump, at); got != "tail text" {
		t.Errorf("ReadString = %q, want %q", got, "tail text")
	}
}

func TestIsPlausibleText(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Hello", true},
		{"abc", true},
		{"Lv 42", true},
		{"ab", false},
		{"   ", false},
		{"", false},
		{"!!!", false},
		{"bad�text", false},
		{"a\x01\x02\x03b", false},
		{"line one\nline two", true},
		{strings.Repeat("x", MaxTextLength), true},
		{strings.Repeat("x", MaxTextLength+1), false},
	}

	for _, tt := range tests {
		if got := IsPlausibleText(tt.in); got != tt.want {
			t.Errorf("IsPlausibleText(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		want   string
		wantOK bool
	}{
		{"utf-8 wins first", []byte("Shop Keeper\x00\x00"), "Shop Keeper", true},
		{"utf-16 fallback", append(EncodeUTF16LE("Mage"), 0, 0), "Mage", true},
		{"pointer bytes", process.EncodePointer(0x7ff612340000, 8), "", false},
		{"zeros", make([]byte, 32), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeText(tt.raw)
			if diff := cmp.Diff([]any{tt.want, tt.wantOK}, []any{got, ok}); diff != "" {
				t.Errorf("DecodeText mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
