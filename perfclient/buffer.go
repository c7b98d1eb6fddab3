package perfclient

import "encoding/binary"

// requestBuffer is the preallocated send payload reused across every
// Send call; a short final send uses a prefix of it. Its first
// eight bytes encode the requested download size in little-endian
// the server is expected to interpret those bytes the same way.
type requestBuffer struct {
	data []byte
}

const downloadSizeUnbounded uint64 = ^uint64(0)

// newRequestBuffer allocates ioSize bytes and stamps the download
// request into the first 8. timed runs request an unbounded download
// (UINT64_MAX in the original); everything else requests exactly
// downloadBytes bytes.
func newRequestBuffer(ioSize uint32, downloadBytes uint64, timed bool) *requestBuffer {
	buf := make([]byte, ioSize)
	want := downloadBytes
	if timed {
		want = downloadSizeUnbounded
	}
	binary.LittleEndian.PutUint64(buf, want)
	return &requestBuffer{data: buf}
}

func (b *requestBuffer) Bytes() []byte { return b.data }
