//go:build windows

package process_windows

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"ptrtrail/process"
	"ptrtrail/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/windows"
)

// Only what is needed to query regions and read pages; write access is never requested.
const readAccess = windows.PROCESS_VM_READ | windows.PROCESS_QUERY_INFORMATION

// WindowsProcess implements the process.Process interface for Windows systems
type WindowsProcess struct {
	pid     process.ProcessID
	name    string
	handle  windows.Handle
	log     *logger.Logger
	mm      []memory_map.MemoryMapItem
	modules []process.Module
	mu      sync.Mutex
}

// New creates a new WindowsProcess instance
func New() process.Process {
	return &WindowsProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new WindowsProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (process.Process, error) {
	p := &WindowsProcess{}
	err := p.Open(pid)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *WindowsProcess) Open(pid process.ProcessID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	handle, err := windows.OpenProcess(readAccess, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return fmt.Errorf("OpenProcess %d: %w", pid, process.ErrAccessDenied)
		}
		return fmt.Errorf("OpenProcess %d failed: %w", pid, err)
	}

	// Re-opening replaces and closes the previous handle
	if p.handle != 0 {
		windows.CloseHandle(p.handle) //nolint
	}

	p.pid = pid
	p.handle = handle
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))

	if err := p.updateMemoryMapInternal(); err != nil {
		p.log.Warn("Failed to initialize memory map: ", err)
	}

	if main, ok := p.mainModule(); ok {
		p.name = main.Name
	}

	p.log.Infoln("Process opened:", p.name)
	return nil
}

func (p *WindowsProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == 0 {
		return nil
	}

	p.log.Infoln("Closing process")

	err := windows.CloseHandle(p.handle)
	p.handle = 0
	p.pid = 0
	p.mm = nil
	p.modules = nil
	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))

	if err != nil {
		return fmt.Errorf("CloseHandle: %w", err)
	}
	return nil
}

func (p *WindowsProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *WindowsProcess) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *WindowsProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateMemoryMapInternal()
}

func (p *WindowsProcess) updateMemoryMapInternal() error {
	if p.handle == 0 {
		return process.ErrProcessNotOpen
	}

	mm, err := memory_map.QueryRegions(p.handle)
	if err != nil {
		return err
	}
	memory_map.Sort(mm)
	p.mm = mm

	modules, err := enumModules(p.handle)
	if err != nil {
		return err
	}
	p.modules = modules
	return nil
}

// mainModule is the first module reported by EnumProcessModulesEx, the executable image
func (p *WindowsProcess) mainModule() (process.Module, bool) {
	if len(p.modules) == 0 {
		return process.Module{}, false
	}
	return p.modules[0], true
}

// enumModules builds the module table with EnumProcessModulesEx
func enumModules(handle windows.Handle) ([]process.Module, error) {
	var needed uint32
	if err := windows.EnumProcessModulesEx(handle, nil, 0, &needed, windows.LIST_MODULES_ALL); err != nil {
		if errors.Is(err, windows.ERROR_PARTIAL_COPY) && needed == 0 {
			// process is not yet initialized or started suspended
			return nil, nil
		}
		return nil, fmt.Errorf("EnumProcessModulesEx: %w", err)
	}
	if needed == 0 {
		return nil, nil
	}

	count := int(needed) / int(unsafe.Sizeof(windows.Handle(0)))
	hModules := make([]windows.Handle, count)
	if err := windows.EnumProcessModulesEx(handle, &hModules[0], needed, &needed, windows.LIST_MODULES_ALL); err != nil {
		return nil, fmt.Errorf("EnumProcessModulesEx: %w", err)
	}

	modules := make([]process.Module, 0, count)
	for _, hModule := range hModules {
		var modName [windows.MAX_PATH]uint16
		if err := windows.GetModuleBaseName(handle, hModule, &modName[0], windows.MAX_PATH); err != nil {
			continue
		}

		var modInfo windows.ModuleInfo
		if err := windows.GetModuleInformation(handle, hModule, &modInfo, uint32(unsafe.Sizeof(modInfo))); err != nil {
			continue
		}

		modules = append(modules, process.Module{
			Name: windows.UTF16ToString(modName[:]),
			Base: process.ProcessMemoryAddress(modInfo.BaseOfDll),
			Size: process.ProcessMemorySize(modInfo.SizeOfImage),
		})
	}
	return modules, nil
}

func (p *WindowsProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if item := memory_map.IsValidAddress2(uint64(addr), p.mm); item != nil {
		return item.IsReadable()
	}
	return false
}

func (p *WindowsProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return nil, process.ErrProcessNotOpen
	}
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)
	return result, nil
}

func (p *WindowsProcess) Modules() ([]process.Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return nil, process.ErrProcessNotOpen
	}
	result := make([]process.Module, len(p.modules))
	copy(result, p.modules)
	return result, nil
}

func (p *WindowsProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return nil, process.ErrProcessNotOpen
	}

	buf := make([]byte, size)
	var bytesRead uintptr
	if err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(size), &bytesRead); err != nil {
		return nil, fmt.Errorf("ReadProcessMemory at 0x%x: %w", uint64(addr), err)
	}
	if bytesRead != uintptr(size) {
		return buf[:bytesRead], fmt.Errorf("partial read: %d of %d bytes", bytesRead, size)
	}

	return buf, nil
}
