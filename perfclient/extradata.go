package perfclient

import (
	"encoding/binary"
	"time"
)

// extraDataHeaderLen is the fixed [u64 RunTime][u64 LatencyCount] prefix
// ahead of the latency samples themselves.
const extraDataHeaderLen = 16

// ExtraData writes the extra-data export blob into buf:
// [u64 RunTime ms][u64 LatencyCount][LatencyCount x u32 latency us].
// The caller's buffer capacity drives LatencyCount — as many samples as
// fit are written, capped at the number actually recorded — and the
// return value is the number of bytes actually written. A buf shorter
// than the fixed header writes nothing and returns 0.
func (c *Client) ExtraData(buf []byte, elapsed time.Duration) int {
	if len(buf) < extraDataHeaderLen {
		return 0
	}

	samples := c.latency.Samples()
	k := uint64(len(buf)-extraDataHeaderLen) / 4
	if uint64(len(samples)) < k {
		k = uint64(len(samples))
	}

	binary.LittleEndian.PutUint64(buf[0:8], uint64(elapsed.Milliseconds()))
	binary.LittleEndian.PutUint64(buf[8:16], k)
	for i := uint64(0); i < k; i++ {
		off := extraDataHeaderLen + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], samples[i])
	}
	return extraDataHeaderLen + int(k*4)
}

// ParseExtraData reads back a blob written by ExtraData, returning the
// run duration and the recorded latency samples. ok is false if buf is
// too short to hold its own declared LatencyCount.
func ParseExtraData(buf []byte) (runTime time.Duration, samples []uint32, ok bool) {
	if len(buf) < extraDataHeaderLen {
		return 0, nil, false
	}
	runTimeMs := binary.LittleEndian.Uint64(buf[0:8])
	count := binary.LittleEndian.Uint64(buf[8:16])
	if uint64(len(buf)) < extraDataHeaderLen+count*4 {
		return 0, nil, false
	}
	out := make([]uint32, count)
	for i := uint64(0); i < count; i++ {
		off := extraDataHeaderLen + i*4
		out[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return time.Duration(runTimeMs) * time.Millisecond, out, true
}
