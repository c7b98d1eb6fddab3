package perfclient

import (
	"context"
	"testing"
	"time"

	"github.com/URNOTCharlotte/msquic/transport"
)

// TestEndToEndRunCompletes drives a full Client/Worker/Connection/Stream
// run against the in-memory fake transport and checks that the
// non-repeat completion predicate fires once every connection and
// stream finishes.
func TestEndToEndRunCompletes(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-conns:3", "-requests:2", "-download:9000"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	c.engine = transport.NewFakeEngine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait(ctx, 5*time.Second)

	if got := c.ConnectionsCompleted(); got != 3 {
		t.Fatalf("expected 3 completed connections, got %d", got)
	}
	if got := c.StreamsCompleted(); got != 6 {
		t.Fatalf("expected 6 completed streams, got %d", got)
	}
}

// TestEndToEndHandshakeOnlyRun covers the StreamCount==0 handshake-rate
// scenario: connections should complete without ever opening a stream.
func TestEndToEndHandshakeOnlyRun(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-conns:5"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	c.engine = transport.NewFakeEngine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait(ctx, 5*time.Second)

	if got := c.ConnectionsCompleted(); got != 5 {
		t.Fatalf("expected 5 completed connections, got %d", got)
	}
	if got := c.StreamsCompleted(); got != 0 {
		t.Fatalf("expected 0 streams for a handshake-only run, got %d", got)
	}
}

// TestEndToEndConnectFailureStillCompletes ensures a connection that
// fails to dial is still counted toward completion instead of hanging
// the run forever.
func TestEndToEndConnectFailureStillCompletes(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-conns:1", "-requests:1"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	fake := transport.NewFakeEngine()
	c.engine = failingEngine{fake}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// The completion predicate only requires every connection to finish
	// (the stream that -requests:1 expects is never opened, since the
	// connection itself never reaches OnConnected), so this returns as
	// soon as the single failed connect is counted; the timeout here
	// is just a safety net.
	c.Wait(ctx, 200*time.Millisecond)

	if got := c.ConnectionsCompleted(); got != 1 {
		t.Fatalf("expected 1 completed (failed) connection, got %d", got)
	}
}

// failingEngine wraps FakeEngine to force every connection's Connect
// call to fail, without needing transport.FakeConnection exported
// mutation races across goroutines.
type failingEngine struct {
	*transport.FakeEngine
}

func (e failingEngine) NewConnection() transport.Connection {
	conn := e.FakeEngine.NewConnection()
	fc := conn.(*transport.FakeConnection)
	fc.FailConnect = true
	return fc
}
