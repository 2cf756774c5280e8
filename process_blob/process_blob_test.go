package process_blob

import (
	"errors"
	"testing"

	"ptrtrail/process"

	"github.com/google/go-cmp/cmp"
)

func TestSnapshotBounds(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	snap := NewSnapshot(0x1000, data)

	if !snap.Contains(0x1000) || !snap.Contains(0x100B) || snap.Contains(0x100C) || snap.Contains(0xFFF) {
		t.Error("Contains disagrees with snapshot bounds")
	}
	if got := snap.AddressOf(4); got != 0x1004 {
		t.Errorf("AddressOf(4) = 0x%x, want 0x1004", uint64(got))
	}

	got, err := snap.ReadMemory(0x1008, 4)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if diff := cmp.Diff([]byte{9, 10, 11, 12}, got); diff != "" {
		t.Errorf("ReadMemory mismatch (-want +got):\n%s", diff)
	}

	for _, tc := range []struct {
		addr process.ProcessMemoryAddress
		size process.ProcessMemorySize
	}{{0x1009, 4}, {0xFFF, 2}, {0x2000, 1}} {
		if _, err := snap.ReadMemory(tc.addr, tc.size); !errors.Is(err, process.ErrAddressNotMapped) {
			t.Errorf("ReadMemory(0x%x, %d) err = %v, want ErrAddressNotMapped", uint64(tc.addr), tc.size, err)
		}
	}

	if ptr, ok := snap.PointerAt(0, 4); !ok || ptr != 0x04030201 {
		t.Errorf("PointerAt(0, 4) = (0x%x, %v)", uint64(ptr), ok)
	}
	if _, ok := snap.PointerAt(8, 8); ok {
		t.Error("PointerAt past the end succeeded")
	}
}

func TestProcessDumpReads(t *testing.T) {
	heap := make([]byte, 0x100)
	dump := NewProcessDump()
	dump.AddModule("game.exe", 0x10000, make([]byte, 0x200))
	dump.AddRegion(0x20000, heap, "rw-p")

	heap[0x10] = 0xAB
	got, err := dump.ReadMemory(0x20010, 1)
	if err != nil || got[0] != 0xAB {
		t.Fatalf("ReadMemory = (%v, %v), want live write visible", got, err)
	}

	if _, err := dump.ReadMemory(0x200F8, 0x10); !errors.Is(err, process.ErrAddressNotMapped) {
		t.Errorf("read across region end err = %v, want ErrAddressNotMapped", err)
	}
	if _, err := dump.ReadMemory(0x50000, 1); !errors.Is(err, process.ErrAddressNotMapped) {
		t.Errorf("unmapped read err = %v, want ErrAddressNotMapped", err)
	}

	modules, _ := dump.Modules()
	want := []process.Module{{Name: "game.exe", Base: 0x10000, Size: 0x200}}
	if diff := cmp.Diff(want, modules); diff != "" {
		t.Errorf("Modules mismatch (-want +got):\n%s", diff)
	}

	if err := dump.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := dump.ReadMemory(0x20010, 1); !errors.Is(err, process.ErrProcessNotOpen) {
		t.Errorf("read after Close err = %v, want ErrProcessNotOpen", err)
	}
}

func TestCapture(t *testing.T) {
	dump := NewProcessDump()
	dump.AddModule("game.exe", 0x10000, []byte("0123456789"))
	dump.AddRegion(0x1000C, []byte("ab"), "r--p")
	dump.AddRegion(0x1000E, []byte("zz"), "---p")

	snap, err := Capture(dump, 0x10000, 10)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.Base() != 0x10000 || snap.Len() != 10 || snap.End() != 0x1000A {
		t.Errorf("Capture = base 0x%x len %d", uint64(snap.Base()), snap.Len())
	}

	// the span crosses a hole and an unreadable region, both left zero
	snap, err = Capture(dump, 0x10008, 8)
	if err != nil {
		t.Fatalf("Capture across a hole: %v", err)
	}
	if diff := cmp.Diff([]byte{'8', '9', 0, 0, 'a', 'b', 0, 0}, snap.Data()); diff != "" {
		t.Errorf("Capture across a hole mismatch (-want +got):\n%s", diff)
	}

	if _, err := Capture(dump, 0x50000, 16); !errors.Is(err, process.ErrAddressNotMapped) {
		t.Errorf("Capture of unmapped memory err = %v, want ErrAddressNotMapped", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	src := NewProcessDump()
	src.PID = 4242
	src.ExeName = "game.exe"
	src.AddModule("game.exe", 0x10000, []byte("module image bytes"))
	src.AddRegion(0x20000, []byte("heap bytes"), "rw-p")
	src.AddRegion(0x30000, []byte("guard"), "---p")

	dir := t.TempDir()
	if err := Save(src, dir, ReadableRegions); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dst := NewProcessDump()
	if err := dst.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if dst.PID != 4242 || dst.Name() != "game.exe" {
		t.Errorf("Load metadata = (%d, %q)", dst.PID, dst.Name())
	}

	srcModules, _ := src.Modules()
	dstModules, _ := dst.Modules()
	if diff := cmp.Diff(srcModules, dstModules); diff != "" {
		t.Errorf("modules mismatch (-want +got):\n%s", diff)
	}

	got, err := dst.ReadMemory(0x20000, 10)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if string(got) != "heap bytes" {
		t.Errorf("heap = %q", got)
	}

	// the unreadable region was never written, so it is absent from the load
	if dst.IsValidAddress(0x30000) {
		t.Error("unreadable region was loaded")
	}
}

func TestModuleRegions(t *testing.T) {
	src := NewProcessDump()
	src.AddModule("game.exe", 0x10000, make([]byte, 0x100))
	src.AddRegion(0x20000, make([]byte, 0x100), "rw-p")

	modules, _ := src.Modules()
	dir := t.TempDir()
	if err := Save(src, dir, ModuleRegions(modules[0])); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dst := NewProcessDump()
	if err := dst.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !dst.IsValidAddress(0x10010) || dst.IsValidAddress(0x20010) {
		t.Error("ModuleRegions saved the wrong regions")
	}
}
