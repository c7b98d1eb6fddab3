package affinity

import "runtime"

func defaultProcessors() []int {
	procs := make([]int, runtime.NumCPU())
	for i := range procs {
		procs[i] = i
	}
	return procs
}
