//go:build windows

package main

import (
	"ptrtrail/process"
	"ptrtrail/process_windows"
)

func openProcess(pid process.ProcessID) (process.Process, error) {
	return process_windows.NewWithPID(pid)
}
