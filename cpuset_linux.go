//go:build linux

package main

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// usableCPUs counts the CPUs in the affinity mask of the calling thread.
func usableCPUs() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}
	if n := set.Count(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// pinCPUs restricts the calling OS thread to cpus. Threads it spawns
// afterwards inherit the mask.
func pinCPUs(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}
