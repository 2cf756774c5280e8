// Package search finds pointer paths to a known address by scanning a memory
// snapshot backward: every aligned slot holding the target is a hop, and each
// hop's own address becomes the next target.
package search

import (
	"context"
	"fmt"
	"sort"

	"ptrtrail/pointerpath"
	"ptrtrail/process"
	"ptrtrail/process_blob"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/samber/lo"
)

// cancelEvery is the number of slots scanned between cancellation checks
const cancelEvery = 1 << 12

// Searcher holds configuration for the search
type Searcher struct {
	MaxDepth    int
	Alignment   int
	PointerSize int
	MaxOffset   int // largest accepted distance from a slot's value to the target
	MaxResults  int
	Progress    chan<- Progress

	log *logger.Logger
}

// Progress is an advisory snapshot of scan state. Events are dropped when the
// receiver is not ready.
type Progress struct {
	Depth  int
	Target process.ProcessMemoryAddress
	Slot   int
	Slots  int
	Found  int
}

// Option is a function that configures a Searcher
type Option func(*Searcher)

func WithMaxDepth(depth int) Option {
	return func(s *Searcher) {
		s.MaxDepth = depth
	}
}

func WithAlignment(align int) Option {
	return func(s *Searcher) {
		s.Alignment = align
	}
}

func WithPointerSize(size int) Option {
	return func(s *Searcher) {
		s.PointerSize = size
	}
}

// WithMaxOffset accepts slots pointing up to n bytes below the target, the
// way a field inside a structure is reached. Zero means exact matches only.
func WithMaxOffset(n int) Option {
	return func(s *Searcher) {
		s.MaxOffset = n
	}
}

func WithMaxResults(n int) Option {
	return func(s *Searcher) {
		s.MaxResults = n
	}
}

func WithProgress(ch chan<- Progress) Option {
	return func(s *Searcher) {
		s.Progress = ch
	}
}

// New creates a Searcher with conservative defaults for interactive use
func New(options ...Option) *Searcher {
	s := &Searcher{
		MaxDepth:    4,
		Alignment:   4,
		PointerSize: process.HostPointerSize,
		MaxResults:  10000,
		log:         logger.NewLogger(coloransi.Color(coloransi.Green, coloransi.ColorOrange, "search")),
	}

	for _, opt := range options {
		opt(s)
	}

	if !process.ValidPointerSize(s.PointerSize) {
		s.PointerSize = process.HostPointerSize
	}
	if s.Alignment <= 0 {
		s.Alignment = 4
	}
	if s.MaxOffset < 0 {
		s.MaxOffset = 0
	}
	return s
}

// frame is one pending search target of the current depth level
type frame struct {
	target    process.ProcessMemoryAddress
	offsets   []int32
	remaining int
}

// Discover captures region from proc and searches it for paths to target.
func (s *Searcher) Discover(ctx context.Context, proc process.Process, region process.Module, target process.ProcessMemoryAddress) ([]pointerpath.PointerPath, error) {
	snap, err := process_blob.Capture(proc, region.Base, region.Size)
	if err != nil {
		return nil, err
	}

	modules, err := proc.Modules()
	if err != nil {
		return nil, fmt.Errorf("module table: %w", err)
	}

	return s.Scan(ctx, snap, modules, target)
}

// Scan searches snap for every chain of at most MaxDepth hops ending at target.
// Slots inside a known module yield module-relative paths; any other slot yields
// an ExternalModule path with an absolute base. On cancellation the paths found
// so far are returned together with the context error.
//
// The search runs one depth level at a time. An address is expanded only at the
// shallowest level that reaches it, once per frame of that level.
func (s *Searcher) Scan(ctx context.Context, snap *process_blob.Snapshot, modules []process.Module, target process.ProcessMemoryAddress) ([]pointerpath.PointerPath, error) {
	var results []pointerpath.PointerPath
	seen := make(map[string]struct{})
	expanded := make(map[process.ProcessMemoryAddress]int)

	data := snap.Data()
	ps := s.PointerSize
	slots := 0
	if len(data) >= ps {
		slots = (len(data)-ps)/s.Alignment + 1
	}

	level := []frame{{target: target, remaining: s.MaxDepth}}

	for depth := 1; depth <= s.MaxDepth && len(level) > 0; depth++ {
		var next []frame

		for _, f := range level {
			if f.target == 0 {
				continue
			}
			if at, ok := expanded[f.target]; ok && at != depth {
				continue
			}
			expanded[f.target] = depth

			low, high := s.window(f.target)

			for slot := 0; slot < slots; slot++ {
				if slot%cancelEvery == 0 {
					if err := ctx.Err(); err != nil {
						s.log.Infoln("Scan cancelled with", len(results), "paths")
						return s.finish(results), err
					}
					s.report(Progress{Depth: depth, Target: f.target, Slot: slot, Slots: slots, Found: len(results)})
				}

				i := slot * s.Alignment
				value, _ := process.DecodePointer(data[i:], ps)
				if value < low || value > high {
					continue
				}

				offsets := make([]int32, 0, len(f.offsets)+1)
				offsets = append(offsets, int32(f.target-value))
				offsets = append(offsets, f.offsets...)

				slotAddr := snap.AddressOf(i)
				path := classify(modules, slotAddr, offsets)

				key := path.Key()
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					results = append(results, path)
					if s.MaxResults > 0 && len(results) >= s.MaxResults {
						s.log.Infoln("Result limit reached:", s.MaxResults)
						return s.finish(results), nil
					}
				}

				if f.remaining > 1 {
					next = append(next, frame{target: slotAddr, offsets: offsets, remaining: f.remaining - 1})
				}
			}
		}

		level = next
	}

	s.log.Infoln("Scan complete, found", len(results), "paths")
	return s.finish(results), nil
}

// window returns the inclusive range of slot values accepted for target
func (s *Searcher) window(target process.ProcessMemoryAddress) (process.ProcessMemoryAddress, process.ProcessMemoryAddress) {
	lo := process.ProcessMemoryAddress(1)
	if uint64(target) > uint64(s.MaxOffset) {
		lo = target - process.ProcessMemoryAddress(s.MaxOffset)
	}
	return lo, target
}

func (s *Searcher) report(p Progress) {
	if s.Progress == nil {
		return
	}
	select {
	case s.Progress <- p:
	default:
	}
}

// finish orders paths shortest chain first, then by module and base offset
func (s *Searcher) finish(results []pointerpath.PointerPath) []pointerpath.PointerPath {
	results = lo.UniqBy(results, func(p pointerpath.PointerPath) string {
		return p.Key()
	})
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Depth() != b.Depth() {
			return a.Depth() < b.Depth()
		}
		if a.IsExternal() != b.IsExternal() {
			return !a.IsExternal()
		}
		if a.ModuleName != b.ModuleName {
			return a.ModuleName < b.ModuleName
		}
		return a.BaseOffset < b.BaseOffset
	})
	return results
}

func classify(modules []process.Module, slot process.ProcessMemoryAddress, offsets []int32) pointerpath.PointerPath {
	if m, ok := process.ModuleForAddress(modules, slot); ok {
		return pointerpath.PointerPath{
			ModuleName: m.Name,
			BaseOffset: int64(slot - m.Base),
			Offsets:    offsets,
		}
	}
	return pointerpath.External(uint64(slot), offsets...)
}
