package resolve

import (
	"testing"

	"ptrtrail/pointerpath"
	"ptrtrail/process"
	"ptrtrail/process_blob"

	"github.com/google/go-cmp/cmp"
)

// newTarget maps game.exe at 0x10000 and a heap region at 0x20000.
// game.exe+0x40 -> 0x20000, and 0x20010 -> 0x20100.
func newTarget(t *testing.T) (*process_blob.ProcessDump, []process.Module) {
	t.Helper()

	image := make([]byte, 0x1000)
	copy(image[0x40:], process.EncodePointer(0x20000, 8))

	heap := make([]byte, 0x1000)
	copy(heap[0x10:], process.EncodePointer(0x20100, 8))

	dump := process_blob.NewProcessDump()
	dump.AddModule("game.exe", 0x10000, image)
	dump.AddRegion(0x20000, heap, "rw-p")

	modules, err := dump.Modules()
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	return dump, modules
}

func TestResolve(t *testing.T) {
	dump, modules := newTarget(t)
	r := New(8)

	tests := []struct {
		name   string
		path   pointerpath.PointerPath
		want   process.ProcessMemoryAddress
		wantOK bool
	}{
		{
			name:   "no offsets is the start address",
			path:   pointerpath.PointerPath{ModuleName: "game.exe", BaseOffset: 0x40},
			want:   0x10040,
			wantOK: true,
		},
		{
			name:   "one hop",
			path:   pointerpath.PointerPath{ModuleName: "game.exe", BaseOffset: 0x40, Offsets: []int32{0}},
			want:   0x20000,
			wantOK: true,
		},
		{
			name:   "two hops",
			path:   pointerpath.PointerPath{ModuleName: "GAME.EXE", BaseOffset: 0x40, Offsets: []int32{0x10, 0x8}},
			want:   0x20108,
			wantOK: true,
		},
		{
			name:   "negative offset",
			path:   pointerpath.PointerPath{ModuleName: "game.exe", BaseOffset: 0x40, Offsets: []int32{-0x10}},
			want:   0x1FFF0,
			wantOK: true,
		},
		{
			name: "unknown module",
			path: pointerpath.PointerPath{ModuleName: "other.exe", BaseOffset: 0x40, Offsets: []int32{0}},
		},
		{
			name: "null pointer breaks the chain",
			path: pointerpath.PointerPath{ModuleName: "game.exe", BaseOffset: 0x48, Offsets: []int32{0}},
		},
		{
			name: "third hop reads a null pointer",
			path: pointerpath.PointerPath{ModuleName: "game.exe", BaseOffset: 0x40, Offsets: []int32{0x10, 0x8, 0}},
		},
		{
			name:   "external path",
			path:   pointerpath.External(0x20010, 0x20),
			want:   0x20120,
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(dump, modules, tt.path)
			if diff := cmp.Diff([]any{tt.want, tt.wantOK}, []any{got, ok}); diff != "" {
				t.Errorf("Resolve(%s) mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	dump, modules := newTarget(t)
	r := New(8)
	path := pointerpath.PointerPath{ModuleName: "game.exe", BaseOffset: 0x40, Offsets: []int32{0x10, 0}}

	first, ok := r.Resolve(dump, modules, path)
	for i := 0; i < 5; i++ {
		got, gotOK := r.Resolve(dump, modules, path)
		if got != first || gotOK != ok {
			t.Fatalf("Resolve run %d = (0x%x, %v), want (0x%x, %v)", i, uint64(got), gotOK, uint64(first), ok)
		}
	}
}

func TestTrace(t *testing.T) {
	dump, modules := newTarget(t)
	r := New(8)

	hops, ok := r.Trace(dump, modules, pointerpath.PointerPath{ModuleName: "game.exe", BaseOffset: 0x40, Offsets: []int32{0x10, 0x8}})
	if !ok {
		t.Fatal("Trace failed")
	}
	want := []process.ProcessMemoryAddress{0x10040, 0x20010, 0x20108}
	if diff := cmp.Diff(want, hops); diff != "" {
		t.Errorf("Trace mismatch (-want +got):\n%s", diff)
	}
}

func TestPointerSizeDefault(t *testing.T) {
	if got := New(0).PointerSize(); got != process.HostPointerSize {
		t.Errorf("PointerSize = %d, want %d", got, process.HostPointerSize)
	}
	if got := New(4).PointerSize(); got != 4 {
		t.Errorf("PointerSize = %d, want 4", got)
	}
}
