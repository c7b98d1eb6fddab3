// Package affinity pins a worker goroutine's underlying OS thread to a
// single logical processor, so each worker runs on its own processor
// instead of migrating across them. Pinning only works when the caller
// has already called runtime.LockOSThread on the goroutine invoking
// Pin.
package affinity

// ActiveProcessors returns the logical processor indices the current
// process may run on. On platforms without a native affinity mask
// (anything but Linux), or when Linux cannot report the mask, it falls
// back to runtime.NumCPU so callers still get one worker per core.
func ActiveProcessors() []int {
	return activeProcessors()
}

// Pin restricts the calling OS thread to processor. Callers must have
// called runtime.LockOSThread first, or the restriction applies to
// whatever thread the goroutine happens to be scheduled on next.
func Pin(processor int) error {
	return pin(processor)
}
