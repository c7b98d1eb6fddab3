package perfclient

import (
	"encoding/binary"
	"testing"
)

func TestRequestBufferEncodesDownloadSize(t *testing.T) {
	buf := newRequestBuffer(1024, 4096, false)
	if len(buf.Bytes()) != 1024 {
		t.Fatalf("expected buffer of length 1024, got %d", len(buf.Bytes()))
	}
	got := binary.LittleEndian.Uint64(buf.Bytes()[:8])
	if got != 4096 {
		t.Fatalf("expected encoded download size 4096, got %d", got)
	}
}

func TestRequestBufferTimedRunRequestsUnbounded(t *testing.T) {
	buf := newRequestBuffer(256, 0, true)
	got := binary.LittleEndian.Uint64(buf.Bytes()[:8])
	if got != downloadSizeUnbounded {
		t.Fatalf("expected unbounded download size, got %d", got)
	}
}
