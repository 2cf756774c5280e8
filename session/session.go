// Package session owns the one live handle to a target process and runs every
// read, scan and validation against it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ptrtrail/deepread"
	"ptrtrail/pointerpath"
	"ptrtrail/process"
	"ptrtrail/resolve"
	"ptrtrail/search"
	"ptrtrail/validate"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var ErrNotAttached = errors.New("no process attached")

// Opener attaches to a process by id. Platform accessors and dumps both
// provide one.
type Opener func(pid process.ProcessID) (process.Process, error)

// Session holds at most one attached process. Scans, validations and watch
// ticks are serialized so the handle is never read from two operations at once.
type Session struct {
	open Opener

	mu   sync.Mutex // guards proc
	proc process.Process

	op sync.Mutex // one operation in flight per handle

	pointerSize   int
	searchOptions []search.Option
	readOptions   []deepread.Option
	validOptions  []validate.Option

	resolver  *resolve.Resolver
	reader    *deepread.Reader
	validator *validate.Validator
	log       *logger.Logger
}

// Option configures a Session
type Option func(*Session)

// WithPointerSize fixes the pointer width used for every dereference
func WithPointerSize(size int) Option {
	return func(s *Session) {
		s.pointerSize = size
	}
}

func WithSearchOptions(options ...search.Option) Option {
	return func(s *Session) {
		s.searchOptions = append(s.searchOptions, options...)
	}
}

func WithReadOptions(options ...deepread.Option) Option {
	return func(s *Session) {
		s.readOptions = append(s.readOptions, options...)
	}
}

func WithValidateOptions(options ...validate.Option) Option {
	return func(s *Session) {
		s.validOptions = append(s.validOptions, options...)
	}
}

func New(open Opener, options ...Option) *Session {
	s := &Session{
		open:        open,
		pointerSize: process.HostPointerSize,
		log:         logger.NewLogger(coloransi.Color(coloransi.Yellow, coloransi.ColorOrange, "session")),
	}
	for _, opt := range options {
		opt(s)
	}

	s.resolver = resolve.New(s.pointerSize)
	s.reader = deepread.New(append([]deepread.Option{deepread.WithPointerSize(s.resolver.PointerSize())}, s.readOptions...)...)
	s.validator = validate.New(s.resolver, s.reader, s.validOptions...)
	return s
}

// Attach opens pid, releasing any previously attached process first
func (s *Session) Attach(pid process.ProcessID) error {
	if s.open == nil {
		return fmt.Errorf("attach %d: no opener configured", pid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()

	proc, err := s.open(pid)
	if err != nil {
		return fmt.Errorf("attach %d: %w", pid, err)
	}
	s.proc = proc
	s.log.Infoln("Attached to", proc.Name(), "pid", pid)
	return nil
}

// Use attaches an already opened process, such as a loaded dump
func (s *Session) Use(proc process.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()
	s.proc = proc
	s.log.Infoln("Using", proc.Name())
}

// Release closes the attached process. It is safe to call when detached.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Session) releaseLocked() {
	if s.proc == nil {
		return
	}
	if err := s.proc.Close(); err != nil {
		s.log.Debugln("close:", err)
	}
	s.log.Infoln("Released", s.proc.Name())
	s.proc = nil
}

// Process returns the attached process
func (s *Session) Process() (process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil, ErrNotAttached
	}
	return s.proc, nil
}

// Read returns size bytes at addr, or nil when the range cannot be read. It
// waits for any scan or validation in flight on the handle.
func (s *Session) Read(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) []byte {
	s.op.Lock()
	defer s.op.Unlock()

	proc, err := s.Process()
	if err != nil {
		return nil
	}
	data, err := proc.ReadMemory(addr, size)
	if err != nil {
		s.log.Debugln(fmt.Sprintf("read 0x%x:", uint64(addr)), err)
		return nil
	}
	return data
}

// Modules returns the attached process's module table
func (s *Session) Modules() ([]process.Module, error) {
	s.op.Lock()
	defer s.op.Unlock()

	proc, err := s.Process()
	if err != nil {
		return nil, err
	}
	return proc.Modules()
}

// Resolve walks path in the attached process
func (s *Session) Resolve(path pointerpath.PointerPath) (process.ProcessMemoryAddress, bool) {
	s.op.Lock()
	defer s.op.Unlock()

	proc, err := s.Process()
	if err != nil {
		return 0, false
	}
	return s.resolveIn(proc, path)
}

// Trace is Resolve with every intermediate address recorded
func (s *Session) Trace(path pointerpath.PointerPath) ([]process.ProcessMemoryAddress, bool) {
	s.op.Lock()
	defer s.op.Unlock()

	proc, err := s.Process()
	if err != nil {
		return nil, false
	}
	modules, _ := proc.Modules()
	return s.resolver.Trace(proc, modules, path)
}

// ReadString deep-reads text at addr
func (s *Session) ReadString(addr process.ProcessMemoryAddress) string {
	s.op.Lock()
	defer s.op.Unlock()

	proc, err := s.Process()
	if err != nil {
		return ""
	}
	return s.reader.ReadString(proc, addr)
}

// ReadPath resolves path and deep-reads the text it reaches
func (s *Session) ReadPath(path pointerpath.PointerPath) (string, bool) {
	s.op.Lock()
	defer s.op.Unlock()

	proc, err := s.Process()
	if err != nil {
		return "", false
	}
	addr, ok := s.resolveIn(proc, path)
	if !ok {
		return "", false
	}
	text := s.reader.ReadString(proc, addr)
	return text, text != ""
}

// resolveIn expects s.op to be held
func (s *Session) resolveIn(proc process.Process, path pointerpath.PointerPath) (process.ProcessMemoryAddress, bool) {
	modules, err := proc.Modules()
	if err != nil {
		s.log.Debugln("module table:", err)
	}
	return s.resolver.Resolve(proc, modules, path)
}

// Validate scores paths against the attached process
func (s *Session) Validate(ctx context.Context, paths []pointerpath.PointerPath, expected string) ([]validate.Result, error) {
	s.op.Lock()
	defer s.op.Unlock()

	proc, err := s.Process()
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(ctx, proc, paths, expected)
}

// Stability samples path over duration
func (s *Session) Stability(ctx context.Context, path pointerpath.PointerPath, duration, interval time.Duration) (validate.StabilityReport, error) {
	s.op.Lock()
	defer s.op.Unlock()

	proc, err := s.Process()
	if err != nil {
		return validate.StabilityReport{Path: path}, err
	}
	return s.validator.Stability(ctx, proc, path, duration, interval)
}
