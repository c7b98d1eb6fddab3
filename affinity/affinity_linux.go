//go:build linux

package affinity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func activeProcessors() []int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return defaultProcessors()
	}
	var procs []int
	for i := 0; i < runtime.NumCPU()*4; i++ {
		if set.IsSet(i) {
			procs = append(procs, i)
		}
	}
	if len(procs) == 0 {
		return defaultProcessors()
	}
	return procs
}

func pin(processor int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(processor)
	return unix.SchedSetaffinity(0, &set)
}
