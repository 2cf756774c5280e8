//go:build linux

package main

import (
	"ptrtrail/process"
	"ptrtrail/process_linux"
)

func openProcess(pid process.ProcessID) (process.Process, error) {
	return process_linux.NewWithPID(pid)
}
