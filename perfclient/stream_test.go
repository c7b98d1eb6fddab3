package perfclient

import (
	"context"
	"testing"
	"time"

	"github.com/URNOTCharlotte/msquic/transport"
)

// TestStreamUploadRecordsLatencyOnSuccess drives a single upload/
// download stream end to end and checks the byte-accounting and
// success-gated latency invariants from scenario 2: BytesAcked reaches
// the full upload, and exactly one latency sample is recorded.
func TestStreamUploadRecordsLatencyOnSuccess(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-conns:1", "-requests:1", "-upload:65536", "-download:65536"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	c.engine = transport.NewFakeEngine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait(ctx, 5*time.Second)

	if got := c.StreamsCompleted(); got != 1 {
		t.Fatalf("expected 1 completed stream, got %d", got)
	}
	if got := c.LatencyCount(); got != 1 {
		t.Fatalf("expected 1 latency sample, got %d", got)
	}
}

// TestStreamLatencyRecordedWithoutPrintLatency asserts that samples are
// recorded even with -platency:0 (the default): PrintLatency only
// gates the printed summary, not the ring itself.
func TestStreamLatencyRecordedWithoutPrintLatency(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-conns:4", "-requests:8", "-download:65536", "-iosize:4096"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if c.PrintLatency {
		t.Fatal("expected PrintLatency to default false")
	}
	c.engine = transport.NewFakeEngine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait(ctx, 5*time.Second)

	if got := c.LatencyCount(); got != 32 {
		t.Fatalf("expected 32 latency samples, got %d", got)
	}
}

// TestStreamHandshakeOnlyRecordsNoLatency covers the boundary case:
// no upload, no download, no streams — only the handshake happens.
func TestStreamHandshakeOnlyRecordsNoLatency(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-conns:2"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	c.engine = transport.NewFakeEngine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait(ctx, 5*time.Second)

	if got := c.LatencyCount(); got != 0 {
		t.Fatalf("expected 0 latency samples for a handshake-only run, got %d", got)
	}
}

// TestStreamTimedRunStopsNearRunTime covers scenario 4: a timed upload
// and download should make the run terminate near RunTime instead of
// blasting the byte count unconditionally and returning immediately.
func TestStreamTimedRunStopsNearRunTime(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{
		"-target:127.0.0.1", "-conns:1", "-requests:1",
		"-upload:1000", "-download:1000", "-timed:1", "-runtime:300",
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	c.engine = transport.NewFakeEngine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	c.Wait(ctx, 0)
	elapsed := time.Since(start)

	if elapsed < 250*time.Millisecond {
		t.Fatalf("expected the run to last close to its 300ms runtime, took %s", elapsed)
	}
}

// TestStreamFailedOpenStillCompletesConnection ensures a stream that
// never manages to open the transport still finalizes and lets the
// connection proceed instead of hanging it forever.
func TestStreamFailedOpenStillCompletesConnection(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-conns:1", "-requests:3"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	fake := transport.NewFakeEngine()
	c.engine = openFailingEngine{fake}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait(ctx, 2*time.Second)

	if got := c.ConnectionsCompleted(); got != 1 {
		t.Fatalf("expected 1 completed connection, got %d", got)
	}
	if got := c.StreamsCompleted(); got != 0 {
		t.Fatalf("expected 0 successful streams when OpenStream always fails, got %d", got)
	}
}

type openFailingEngine struct {
	*transport.FakeEngine
}

func (e openFailingEngine) NewConnection() transport.Connection {
	conn := e.FakeEngine.NewConnection()
	fc := conn.(*transport.FakeConnection)
	fc.FailOpen = true
	return fc
}
