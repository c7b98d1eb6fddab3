package perfclient

import "sync/atomic"

// latencyRing is a fixed-capacity, monotonically-filled array of
// microsecond latency samples. Producers never lock against each
// other: each reserves its own slot with a single atomic increment of
// curIndex, so two samples never land in the same slot. Samples past
// the capacity are dropped by policy.
type latencyRing struct {
	values   []uint32
	curIndex int64 // atomic: next slot to hand out (fetch_add)
	count    int64 // atomic: number of samples actually written
}

func newLatencyRing(capacity uint64) *latencyRing {
	return &latencyRing{values: make([]uint32, capacity)}
}

// Record reserves the next slot and writes microseconds into it if
// the ring still has room. It is safe to call concurrently from any
// number of streams across any number of workers.
func (r *latencyRing) Record(microseconds uint64) {
	index := atomic.AddInt64(&r.curIndex, 1) - 1
	if index < 0 || uint64(index) >= uint64(len(r.values)) {
		return
	}
	v := uint32(microseconds)
	if microseconds > uint64(^uint32(0)) {
		v = ^uint32(0)
	}
	r.values[index] = v
	atomic.AddInt64(&r.count, 1)
}

// Count returns the number of samples actually recorded (capped at
// capacity) that were actually recorded.
func (r *latencyRing) Count() uint64 {
	return uint64(atomic.LoadInt64(&r.count))
}

// CurIndex returns the raw, uncapped reservation cursor.
func (r *latencyRing) CurIndex() uint64 {
	v := atomic.LoadInt64(&r.curIndex)
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// Samples returns the recorded prefix of the ring, [0, Count()).
func (r *latencyRing) Samples() []uint32 {
	n := r.Count()
	if n > uint64(len(r.values)) {
		n = uint64(len(r.values))
	}
	return r.values[:n]
}
