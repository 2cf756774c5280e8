package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ptrtrail/deepread"
	"ptrtrail/pointerpath"
	"ptrtrail/process"
	"ptrtrail/process_blob"

	"github.com/google/go-cmp/cmp"
)

// newTarget maps game.exe at 0x10000 with slot +0x40 -> 0x20000, where the
// heap holds UTF-16 "Hello".
func newTarget(pid process.ProcessID) (*process_blob.ProcessDump, []byte) {
	image := make([]byte, 0x1000)
	copy(image[0x40:], process.EncodePointer(0x20000, 8))

	heap := make([]byte, 0x100)
	copy(heap, deepread.EncodeUTF16LE("Hello"))

	dump := process_blob.NewProcessDump()
	dump.PID = pid
	dump.ExeName = "game.exe"
	dump.AddModule("game.exe", 0x10000, image)
	dump.AddRegion(0x20000, heap, "rw-p")
	return dump, heap
}

var helloPath = pointerpath.PointerPath{ModuleName: "game.exe", BaseOffset: 0x40, Offsets: []int32{0}}

func TestAttachReleasesPrevious(t *testing.T) {
	opened := map[process.ProcessID]*process_blob.ProcessDump{}
	s := New(func(pid process.ProcessID) (process.Process, error) {
		if pid == 3 {
			return nil, process.ErrAccessDenied
		}
		dump, _ := newTarget(pid)
		opened[pid] = dump
		return dump, nil
	}, WithPointerSize(8))

	if _, err := s.Process(); !errors.Is(err, ErrNotAttached) {
		t.Errorf("Process before Attach err = %v", err)
	}

	if err := s.Attach(1); err != nil {
		t.Fatalf("Attach(1): %v", err)
	}
	if err := s.Attach(2); err != nil {
		t.Fatalf("Attach(2): %v", err)
	}
	if _, err := opened[1].ReadMemory(0x20000, 2); !errors.Is(err, process.ErrProcessNotOpen) {
		t.Errorf("first handle still open: %v", err)
	}
	if got := s.Read(0x20000, 2); len(got) != 2 {
		t.Errorf("Read on second handle = %v", got)
	}

	if err := s.Attach(3); !errors.Is(err, process.ErrAccessDenied) {
		t.Errorf("Attach(3) err = %v, want ErrAccessDenied", err)
	}
	if _, err := opened[2].ReadMemory(0x20000, 2); !errors.Is(err, process.ErrProcessNotOpen) {
		t.Errorf("second handle still open after re-attach: %v", err)
	}
	if _, err := s.Process(); !errors.Is(err, ErrNotAttached) {
		t.Errorf("failed Attach left a process attached: %v", err)
	}
}

func TestReadReturnsEmptyOnFailure(t *testing.T) {
	dump, _ := newTarget(1)
	s := New(nil, WithPointerSize(8))

	if got := s.Read(0x20000, 4); got != nil {
		t.Errorf("Read while detached = %v", got)
	}

	s.Use(dump)
	if got := s.Read(0x900000, 4); got != nil {
		t.Errorf("Read unmapped = %v", got)
	}

	s.Release()
	s.Release()
	if _, err := s.Process(); !errors.Is(err, ErrNotAttached) {
		t.Errorf("Process after Release err = %v", err)
	}
}

func TestEndToEnd(t *testing.T) {
	dump, _ := newTarget(1)
	s := New(nil, WithPointerSize(8))
	s.Use(dump)

	report, err := s.FindPaths(context.Background(), FindRequest{Text: "Hello"})
	if err != nil {
		t.Fatalf("FindPaths: %v", err)
	}

	if report.Module.Name != "game.exe" || report.Candidates != 1 {
		t.Errorf("report module %q with %d candidates", report.Module.Name, report.Candidates)
	}
	best, ok := report.Best()
	if !ok {
		t.Fatal("no valid result")
	}
	if diff := cmp.Diff(helloPath, best.Path); diff != "" {
		t.Errorf("best path mismatch (-want +got):\n%s", diff)
	}
	if best.Score != 100 || best.Text != "Hello" {
		t.Errorf("best = score %d text %q", best.Score, best.Text)
	}

	addr, ok := s.Resolve(best.Path)
	if !ok || addr != 0x20000 {
		t.Errorf("Resolve = (0x%x, %v), want 0x20000", uint64(addr), ok)
	}
	if got := s.ReadString(addr); got != "Hello" {
		t.Errorf("ReadString = %q", got)
	}
}

func TestFindPathsNoCandidates(t *testing.T) {
	dump, _ := newTarget(1)
	s := New(nil, WithPointerSize(8))
	s.Use(dump)

	report, err := s.FindPaths(context.Background(), FindRequest{Text: "Nowhere"})
	if err != nil {
		t.Fatalf("FindPaths: %v", err)
	}
	if len(report.Targets) != 0 || len(report.Results) != 0 {
		t.Errorf("report = %+v, want empty", report)
	}

	if _, err := s.FindPaths(context.Background(), FindRequest{Text: "Hello", Module: "missing.dll"}); err == nil {
		t.Error("FindPaths on a missing module succeeded")
	}
}

func TestWatchEmitsChanges(t *testing.T) {
	dump, heap := newTarget(1)
	s := New(nil, WithPointerSize(8))
	s.Use(dump)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	err := s.Watch(ctx, helloPath, time.Millisecond, func(u Update) {
		got = append(got, u.Text)
		switch len(got) {
		case 1:
			// emit runs on the polling goroutine, so this write cannot race a read
			copy(heap, deepread.EncodeUTF16LE("World"))
		case 2:
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Watch err = %v, want context.Canceled", err)
	}
	if diff := cmp.Diff([]string{"Hello", "World"}, got); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchAddress(t *testing.T) {
	dump, _ := newTarget(1)
	s := New(nil, WithPointerSize(8))
	s.Use(dump)

	ctx, cancel := context.WithCancel(context.Background())
	var got Update
	err := s.WatchAddress(ctx, 0x10040, time.Millisecond, func(u Update) {
		got = u
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WatchAddress err = %v", err)
	}
	if got.Text != "Hello" || got.Address != 0x10040 {
		t.Errorf("update = %+v", got)
	}
}

func TestStabilityThroughSession(t *testing.T) {
	dump, _ := newTarget(1)
	s := New(nil, WithPointerSize(8))

	if _, err := s.Stability(context.Background(), helloPath, 0, time.Millisecond); !errors.Is(err, ErrNotAttached) {
		t.Errorf("Stability while detached err = %v", err)
	}

	s.Use(dump)
	report, err := s.Stability(context.Background(), helloPath, 5*time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("Stability: %v", err)
	}
	if report.Score != 100 {
		t.Errorf("Stability score = %d, want 100", report.Score)
	}
}

// gatedProcess parks the first ReadMemory call until release is closed
type gatedProcess struct {
	*process_blob.ProcessDump
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.ProcessDump.ReadMemory(addr, size)
}

func TestReadWaitsForValidation(t *testing.T) {
	dump, _ := newTarget(1)
	proc := &gatedProcess{ProcessDump: dump, started: make(chan struct{}), release: make(chan struct{})}

	s := New(nil, WithPointerSize(8))
	s.Use(proc)

	validated := make(chan error, 1)
	go func() {
		_, err := s.Validate(context.Background(), []pointerpath.PointerPath{helloPath}, "Hello")
		validated <- err
	}()
	<-proc.started

	read := make(chan []byte, 1)
	go func() {
		read <- s.Read(0x20000, 2)
	}()

	select {
	case got := <-read:
		t.Fatalf("Read returned %v while a validation held the handle", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(proc.release)
	if err := <-validated; err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := <-read; len(got) != 2 {
		t.Errorf("Read after validation = %v", got)
	}
}

func TestFindPathsNamesProcessWithoutModules(t *testing.T) {
	dump := process_blob.NewProcessDump()
	dump.PID = 7
	dump.ExeName = "game.exe"
	dump.AddRegion(0x20000, make([]byte, 0x10), "rw-p")

	s := New(nil, WithPointerSize(8))
	s.Use(dump)

	_, err := s.FindPaths(context.Background(), FindRequest{Text: "Hello"})
	if err == nil {
		t.Fatal("FindPaths without modules succeeded")
	}
	if want := `find: no main module in game.exe (pid 7)`; err.Error() != want {
		t.Errorf("FindPaths err = %q, want %q", err, want)
	}
}
