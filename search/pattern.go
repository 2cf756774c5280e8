package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"ptrtrail/process"
	"ptrtrail/process/memory_map"

	"github.com/samber/lo"
)

// maxRegionSize skips regions too large to copy in one read
const maxRegionSize = 256 << 20

var ErrEmptyPattern = errors.New("empty pattern")

// AOB (Array of Bytes) represents a pattern to search for in memory
type AOB struct {
	Pattern []byte // The byte pattern to search for
	Mask    []byte // Optional mask where 0xFF means exact match and 0x00 means wildcard
}

func NewAOB(pattern, mask []byte) (AOB, error) {
	if len(pattern) != len(mask) {
		return AOB{}, fmt.Errorf("pattern and mask must be of the same length")
	}
	return AOB{Pattern: pattern, Mask: mask}, nil
}

// ParsePattern reads a space separated hex pattern such as "48 8B ?? ?? 05".
// "?" or "??" is a wildcard byte.
func ParsePattern(s string) (AOB, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return AOB{}, ErrEmptyPattern
	}

	aob := AOB{
		Pattern: make([]byte, len(fields)),
		Mask:    make([]byte, len(fields)),
	}
	for i, f := range fields {
		if f == "?" || f == "??" {
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return AOB{}, fmt.Errorf("pattern byte %d %q: %w", i, f, err)
		}
		aob.Pattern[i] = byte(v)
		aob.Mask[i] = 0xFF
	}
	return aob, nil
}

// normalize fills a missing mask with exact-match bytes
func (aob AOB) normalize() (AOB, error) {
	if len(aob.Pattern) == 0 {
		return aob, ErrEmptyPattern
	}
	if len(aob.Mask) == 0 {
		aob.Mask = bytes.Repeat([]byte{0xFF}, len(aob.Pattern))
	} else if len(aob.Mask) != len(aob.Pattern) {
		return aob, fmt.Errorf("mask length (%d) doesn't match pattern length (%d)",
			len(aob.Mask), len(aob.Pattern))
	}
	return aob, nil
}

// FindPattern returns every offset in data where the masked pattern matches
func FindPattern(data []byte, aob AOB) []int {
	aob, err := aob.normalize()
	if err != nil || len(data) < len(aob.Pattern) {
		return nil
	}

	var matches []int
	for i := 0; i <= len(data)-len(aob.Pattern); i++ {
		matched := true
		for j := 0; j < len(aob.Pattern); j++ {
			if aob.Mask[j] == 0 {
				continue
			}
			if data[i+j]&aob.Mask[j] != aob.Pattern[j]&aob.Mask[j] {
				matched = false
				break
			}
		}
		if matched {
			matches = append(matches, i)
		}
	}
	return matches
}

// ScanProcess searches every readable region of proc for aob. Regions are read
// one at a time on the calling goroutine, since a handle's reads are not safe
// to run concurrently; up to maxdop workers match the copies. Unreadable
// regions are skipped.
func (s *Searcher) ScanProcess(ctx context.Context, proc process.Process, aob AOB, maxdop int) ([]process.ProcessMemoryAddress, error) {
	aob, err := aob.normalize()
	if err != nil {
		return nil, err
	}

	memMap, err := proc.GetMemoryMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory map: %w", err)
	}

	regions := lo.Filter(memMap, func(r memory_map.MemoryMapItem, _ int) bool {
		return r.IsReadable() && r.Size <= maxRegionSize && r.Address <= uint64(process.MaxUserAddress)
	})

	if maxdop <= 0 {
		maxdop = 1
	}
	if n := runtime.NumCPU(); maxdop > n {
		maxdop = n
	}

	s.log.Infoln("Scanning", len(regions), "regions for pattern of length", len(aob.Pattern))

	type chunk struct {
		base uint64
		data []byte
	}

	work := make(chan chunk, maxdop)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []process.ProcessMemoryAddress

	for i := 0; i < maxdop; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				matches := FindPattern(c.data, aob)
				if len(matches) == 0 {
					continue
				}

				mu.Lock()
				for _, offset := range matches {
					results = append(results, process.ProcessMemoryAddress(c.base+uint64(offset)))
				}
				mu.Unlock()
			}
		}()
	}

	for _, region := range regions {
		if ctx.Err() != nil {
			break
		}

		data, err := proc.ReadMemory(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size))
		if err != nil {
			s.log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), err)
			continue
		}

		select {
		case work <- chunk{base: region.Address, data: data}:
		case <-ctx.Done():
		}
	}
	close(work)

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	s.log.Infoln("Scan complete, found", len(results), "matches")
	return results, nil
}
