//go:build !linux

package main

import (
	"errors"
	"runtime"
)

func usableCPUs() int {
	return runtime.NumCPU()
}

func pinCPUs(cpus []int) error {
	if len(cpus) == 0 {
		return nil
	}
	return errors.New("cpu pinning is only supported on linux")
}
