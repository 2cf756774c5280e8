package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ptrtrail/process"
	"ptrtrail/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// maxSavedRegion caps the size of a single region written by Save
const maxSavedRegion = 100 * 1024 * 1024

// RegionFilter selects which regions Save writes
type RegionFilter func(region memory_map.MemoryMapItem) bool

// ReadableRegions keeps every readable region
func ReadableRegions(region memory_map.MemoryMapItem) bool {
	return region.IsReadable()
}

// ModuleRegions keeps readable regions that overlap the given module
func ModuleRegions(m process.Module) RegionFilter {
	return func(region memory_map.MemoryMapItem) bool {
		start := process.ProcessMemoryAddress(region.Address)
		end := process.ProcessMemoryAddress(region.End())
		return region.IsReadable() && start < m.End() && end > m.Base
	}
}

// Save writes the metadata, memory map and selected regions of proc to dirname
// in the layout Load expects. Unreadable regions are skipped and counted.
func Save(proc process.Process, dirname string, filter RegionFilter) error {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("dump-%d", proc.GetPID())))

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := proc.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("failed to update memory map: %w", err)
	}

	modules, err := proc.Modules()
	if err != nil {
		return fmt.Errorf("failed to read module table: %w", err)
	}

	mm, err := proc.GetMemoryMap()
	if err != nil {
		return fmt.Errorf("failed to get memory map: %w", err)
	}

	metadataJSON, err := json.MarshalIndent(dumpMetadata{
		PID:     proc.GetPID(),
		Name:    proc.Name(),
		Modules: modules,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, "metadata.json"), metadataJSON, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	memoryMapJSON, err := json.MarshalIndent(mm, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal memory map: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, "process_memory_map.json"), memoryMapJSON, 0644); err != nil {
		return fmt.Errorf("failed to write memory map file: %w", err)
	}

	savedCount, errorCount := 0, 0
	for _, region := range mm {
		if !filter(region) {
			continue
		}

		if region.Size > maxSavedRegion {
			log.Infoln("Skipping large region at", fmt.Sprintf("%x", region.Address), "(size:", region.Size/1024/1024, "MB)")
			continue
		}

		data, err := proc.ReadMemory(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size))
		if err != nil {
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), err)
			errorCount++
			continue
		}

		if err := os.WriteFile(blobFilename(dirname, region), data, 0644); err != nil {
			return fmt.Errorf("failed to write region 0x%x: %w", region.Address, err)
		}
		savedCount++
	}

	log.Infoln("Process dump saved:", savedCount, "regions saved,", errorCount, "unreadable")
	return nil
}
