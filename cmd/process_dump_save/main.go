package main

import (
	"flag"
	"fmt"
	"os"

	"ptrtrail/process_blob"
	"ptrtrail/session"
)

func main() {
	pidFlag := flag.Int("pid", 0, "Process ID to attach to")
	outputFlag := flag.String("output", "", "Output directory for the dump")
	allFlag := flag.Bool("all", false, "Save every readable region instead of the main module")
	flag.Parse()

	if *pidFlag == 0 {
		fmt.Println("Error: --pid is required")
		flag.Usage()
		os.Exit(1)
	}

	if *outputFlag == "" {
		fmt.Println("Error: --output is required")
		flag.Usage()
		os.Exit(1)
	}

	proc, err := getProcess(*pidFlag)
	if err != nil {
		fmt.Printf("Error attaching to process %d: %v\n", *pidFlag, err)
		os.Exit(1)
	}
	defer proc.Close()

	fmt.Printf("Attached to process %d (%s)\n", *pidFlag, proc.Name())

	filter := process_blob.ReadableRegions
	if !*allFlag {
		modules, err := proc.Modules()
		if err != nil {
			fmt.Printf("Error reading module table: %v\n", err)
			os.Exit(1)
		}
		m, ok := session.MainModule(proc, modules)
		if !ok {
			fmt.Println("Error: process has no modules, use --all")
			os.Exit(1)
		}
		fmt.Printf("Saving main module %s\n", m)
		filter = process_blob.ModuleRegions(m)
	}

	fmt.Printf("Saving dump to %s...\n", *outputFlag)
	if err := process_blob.Save(proc, *outputFlag, filter); err != nil {
		fmt.Printf("Error saving dump: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Dump saved successfully.")
}
