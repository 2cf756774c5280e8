package session

import (
	"context"
	"fmt"
	"runtime"

	"ptrtrail/pointerpath"
	"ptrtrail/process"
	"ptrtrail/process_blob"
	"ptrtrail/search"
	"ptrtrail/validate"

	"github.com/samber/lo"
)

// FindRequest describes one discovery run
type FindRequest struct {
	Text     string // fragment known to be on screen
	Expected string // compared against candidates; defaults to Text
	Module   string // module to scan; defaults to the main module
	Limit    int    // keep the best Limit results; zero keeps all
}

// FindReport is the ranked outcome of FindPaths
type FindReport struct {
	Module     process.Module
	Targets    []search.TextMatch
	Candidates int
	Results    []validate.Result
}

// Best returns the highest scoring valid result
func (r FindReport) Best() (validate.Result, bool) {
	return lo.Find(r.Results, func(res validate.Result) bool { return res.Valid })
}

// MainModule picks the module named after the process, else the first module
func MainModule(proc process.Process, modules []process.Module) (process.Module, bool) {
	if m, ok := process.FindModule(modules, proc.Name()); ok {
		return m, true
	}
	if len(modules) > 0 {
		return modules[0], true
	}
	return process.Module{}, false
}

// FindPaths locates req.Text, discovers paths to every location found from
// within one module, then validates and ranks them. Finding nothing is not
// an error.
func (s *Session) FindPaths(ctx context.Context, req FindRequest) (FindReport, error) {
	s.op.Lock()
	defer s.op.Unlock()

	var report FindReport

	proc, err := s.Process()
	if err != nil {
		return report, err
	}
	if req.Text == "" {
		return report, fmt.Errorf("find: %w", search.ErrEmptyPattern)
	}
	if req.Expected == "" {
		req.Expected = req.Text
	}

	if err := proc.UpdateMemoryMap(); err != nil {
		s.log.Debugln("memory map refresh:", err)
	}
	modules, err := proc.Modules()
	if err != nil {
		return report, fmt.Errorf("module table: %w", err)
	}

	var module process.Module
	var ok bool
	if req.Module != "" {
		if module, ok = process.FindModule(modules, req.Module); !ok {
			return report, fmt.Errorf("find: module %q not loaded", req.Module)
		}
	} else if module, ok = MainModule(proc, modules); !ok {
		return report, fmt.Errorf("find: no main module in %s (pid %d)", proc.Name(), proc.GetPID())
	}
	report.Module = module

	snap, err := process_blob.Capture(proc, module.Base, module.Size)
	if err != nil {
		return report, err
	}

	searcher := search.New(append([]search.Option{search.WithPointerSize(s.resolver.PointerSize())}, s.searchOptions...)...)

	report.Targets = search.FindTextIn(snap, req.Text)
	if len(report.Targets) == 0 {
		report.Targets, err = searcher.FindText(ctx, proc, req.Text, runtime.NumCPU())
		if err != nil {
			return report, err
		}
	}
	s.log.Infoln("Found", len(report.Targets), "locations of", fmt.Sprintf("%q", req.Text))

	var paths []pointerpath.PointerPath
	for _, target := range report.Targets {
		found, err := searcher.Scan(ctx, snap, modules, target.Address)
		paths = append(paths, found...)
		if err != nil {
			return report, err
		}
	}
	paths = lo.UniqBy(paths, func(p pointerpath.PointerPath) string { return p.Key() })
	report.Candidates = len(paths)

	if len(paths) == 0 {
		s.log.Infoln("No candidate paths in", module.Name)
		return report, nil
	}

	results, err := s.validator.Validate(ctx, proc, paths, req.Expected)
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	report.Results = results
	return report, err
}
