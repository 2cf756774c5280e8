//go:build linux

package process_linux

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"ptrtrail/process"
	"ptrtrail/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// LinuxProcess implements the process.Process interface for Linux systems.
// Reads go through process_vm_readv; nothing is ever written to the target.
type LinuxProcess struct {
	pid     process.ProcessID
	name    string
	log     *logger.Logger
	mm      []memory_map.MemoryMapItem
	modules []process.Module
	mu      sync.Mutex
}

// New creates a new LinuxProcess instance
func New() process.Process {
	return &LinuxProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new LinuxProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (process.Process, error) {
	p := &LinuxProcess{}
	err := p.Open(pid)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *LinuxProcess) Open(pid process.ProcessID) error {
	exists, err := gopsprocess.PidExists(int32(pid))
	if err != nil || !exists {
		return fmt.Errorf("process with PID %d does not exist", pid)
	}

	name := ""
	if gp, err := gopsprocess.NewProcess(int32(pid)); err == nil {
		name, _ = gp.Name()
	}

	p.mu.Lock()
	p.pid = pid
	p.name = name
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))
	p.mu.Unlock()

	// Reading the maps needs the same ptrace access as reading memory
	if err := p.UpdateMemoryMap(); err != nil {
		p.mu.Lock()
		p.pid = 0
		p.mu.Unlock()
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("open process %d: %w", pid, process.ErrAccessDenied)
		}
		return fmt.Errorf("failed to initialize memory map: %w", err)
	}

	p.log.Infoln("Process opened:", name)

	return nil
}

func (p *LinuxProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil
	}

	p.log.Infoln("Closing process")

	p.pid = 0
	p.mm = nil
	p.modules = nil

	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))

	return nil
}

// GetPID returns the process ID
func (p *LinuxProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *LinuxProcess) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *LinuxProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 {
		return process.ErrProcessNotOpen
	}

	mm, err := memory_map.NewLinuxMemoryMap().ReadMemoryMap(int(p.pid))
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	// IsValidAddress2 requires the memory map to be sorted by address
	memory_map.Sort(mm)

	var modules []process.Module
	for _, img := range memory_map.Images(mm) {
		modules = append(modules, process.Module{
			Name: img.Name,
			Path: img.Path,
			Base: process.ProcessMemoryAddress(img.Start),
			Size: process.ProcessMemorySize(img.End - img.Start),
		})
	}

	p.mm = mm
	p.modules = modules
	return nil
}

func (p *LinuxProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.isValidAddressInternal(addr)
}

// Internal helper function that assumes the mutex is already locked
func (p *LinuxProcess) isValidAddressInternal(addr process.ProcessMemoryAddress) bool {
	if !process.IsPlausibleAddress(addr) {
		return false
	}

	if item := memory_map.IsValidAddress2(uint64(addr), p.mm); item != nil {
		return item.IsReadable()
	}

	return false
}

func (p *LinuxProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	// Make a copy of the memory map to prevent external modification
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)
	return result, nil
}

func (p *LinuxProcess) Modules() ([]process.Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	result := make([]process.Module, len(p.modules))
	copy(result, p.modules)
	return result, nil
}
