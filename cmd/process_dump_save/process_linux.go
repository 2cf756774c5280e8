//go:build linux

package main

import (
	"ptrtrail/process"
	"ptrtrail/process_linux"
)

func getProcess(pid int) (process.Process, error) {
	return process_linux.NewWithPID(process.ProcessID(pid))
}
