//go:build windows

package main

import (
	"ptrtrail/process"
	"ptrtrail/process_windows"
)

func getProcess(pid int) (process.Process, error) {
	return process_windows.NewWithPID(process.ProcessID(pid))
}
