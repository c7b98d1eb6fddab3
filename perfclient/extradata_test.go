package perfclient

import (
	"testing"
	"time"
)

func TestExtraDataRoundTrip(t *testing.T) {
	c := newTestClient()
	c.latency = newLatencyRing(10)
	for i := uint64(1); i <= 5; i++ {
		c.latency.Record(i * 100)
	}

	buf := make([]byte, extraDataHeaderLen+3*4)
	n := c.ExtraData(buf, 1500*time.Millisecond)
	if n != len(buf) {
		t.Fatalf("expected to write %d bytes, wrote %d", len(buf), n)
	}

	runTime, samples, ok := ParseExtraData(buf[:n])
	if !ok {
		t.Fatal("expected successful parse")
	}
	if runTime != 1500*time.Millisecond {
		t.Fatalf("expected runTime 1500ms, got %s", runTime)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples (buffer-capacity-limited), got %d", len(samples))
	}
	want := []uint32{100, 200, 300}
	for i, s := range samples {
		if s != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], s)
		}
	}
}

func TestExtraDataCapsAtRecordedSampleCount(t *testing.T) {
	c := newTestClient()
	c.latency = newLatencyRing(10)
	c.latency.Record(42)

	buf := make([]byte, extraDataHeaderLen+10*4)
	n := c.ExtraData(buf, 0)
	if n != extraDataHeaderLen+1*4 {
		t.Fatalf("expected blob sized to 1 recorded sample, got %d bytes", n)
	}

	_, samples, ok := ParseExtraData(buf[:n])
	if !ok || len(samples) != 1 || samples[0] != 42 {
		t.Fatalf("unexpected parse result: samples=%v ok=%v", samples, ok)
	}
}

func TestExtraDataTooShortWritesNothing(t *testing.T) {
	c := newTestClient()
	c.latency = newLatencyRing(1)
	if n := c.ExtraData(make([]byte, 8), 0); n != 0 {
		t.Fatalf("expected 0 bytes written for an undersized buffer, got %d", n)
	}
}
