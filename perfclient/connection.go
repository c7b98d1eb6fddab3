package perfclient

import (
	"context"
	"sync/atomic"

	"github.com/URNOTCharlotte/msquic/metrics"
	"github.com/URNOTCharlotte/msquic/transport"
)

// Connection wraps one transport.Connection for the duration of a
// single handshake-to-shutdown lifetime. All of its callbacks run on
// goroutines owned by the transport, never on the Worker's dispatch
// loop, so every mutable field here is touched only through atomics
// or under the done-channel happens-before edge.
type Connection struct {
	worker *Worker
	conn   transport.Connection

	streamsStarted   uint32
	streamsCompleted uint32

	done chan struct{}
}

// newConnection pulls a Connection from the worker's pool and resets it
// to a fresh lifetime. It is safe to call concurrently: RepeatConnections
// keeps several connections in flight on the same worker at once.
func newConnection(w *Worker) *Connection {
	cw := w.connPool.Alloc()
	cw.worker = w
	cw.conn = nil
	cw.streamsStarted = 0
	cw.streamsCompleted = 0
	cw.done = make(chan struct{})
	return cw
}

// run connects, drives streams to completion, and blocks until the
// transport reports the connection fully shut down.
func (cw *Connection) run(ctx context.Context) {
	w := cw.worker
	c := w.client
	cw.conn = c.engine.NewConnection()
	w.connectionsActive.Add(1)
	metrics.ConnectionsStarted.Inc()
	metrics.ConnectionsActive.Inc()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opts := transport.ConnectOptions{
		Family:            c.TargetFamily,
		ServerName:        w.target,
		Remote:            c.remoteAddr,
		LocalAddr:         w.localAddr,
		ShareBinding:      c.ShareBinding,
		DisableEncryption: !c.UseEncryption,
		CibirID:           c.CibirID,
	}
	events := transport.ConnectionEvents{
		OnConnected:        cw.onConnected,
		OnShutdownComplete: cw.onShutdownComplete,
	}

	if err := cw.conn.Connect(dialCtx, opts, events); err != nil {
		c.log.WithError(err).Debug("connection attempt failed")
		w.connectionsActive.Add(^uint64(0))
		w.connectionsCompleted.Add(1)
		metrics.ConnectionsActive.Dec()
		metrics.ConnectionsCompleted.Inc()
		close(cw.done)
		c.maybeComplete()
		return
	}

	<-cw.done
}

// onConnected fires once the handshake completes. A connection with
// no streams configured (a pure handshake-rate test) shuts down
// immediately; otherwise it opens every configured stream as soon as
// the connection is usable.
func (cw *Connection) onConnected() {
	w := cw.worker
	c := w.client
	if c.PrintConnections {
		c.log.WithField("target", w.target).Debug("connection established")
	}
	if c.StreamCount == 0 {
		cw.conn.Shutdown()
		return
	}
	// Reserve the full stream count before starting any of them: a
	// stream's upload/reply can complete on another goroutine almost
	// immediately, and onStreamDone must never see a streamsStarted
	// value lower than its true final count or it would shut the
	// connection down before its siblings ever open.
	atomic.AddUint32(&cw.streamsStarted, c.StreamCount)
	for i := uint32(0); i < c.StreamCount; i++ {
		s := newStream(cw)
		s.start()
	}
}

// startStream starts exactly one replacement stream; used only by the
// RepeatStreams path, where streams are started one at a time as
// their predecessors finish.
func (cw *Connection) startStream() {
	atomic.AddUint32(&cw.streamsStarted, 1)
	s := newStream(cw)
	s.start()
}

// onStreamDone is called exactly once per stream, however it ended
// (successfully or not — the worker-level StreamsCompleted stat is
// incremented by Stream.finalize itself, only on success). When
// RepeatStreams is set and the run is still active, it immediately
// starts one replacement stream on this same connection; otherwise,
// once every started stream has finished, it tears the connection down.
func (cw *Connection) onStreamDone() {
	w := cw.worker
	c := w.client
	completed := atomic.AddUint32(&cw.streamsCompleted, 1)

	if c.RepeatStreams && c.running.Load() {
		cw.startStream()
		return
	}
	if completed >= atomic.LoadUint32(&cw.streamsStarted) {
		cw.conn.Shutdown()
	}
}

func (cw *Connection) onShutdownComplete() {
	w := cw.worker
	c := w.client
	w.connectionsActive.Add(^uint64(0))
	w.connectionsCompleted.Add(1)
	metrics.ConnectionsActive.Dec()
	metrics.ConnectionsCompleted.Inc()
	close(cw.done)
	c.maybeComplete()
}

// maybeComplete checks the non-repeat completion predicate: every
// requested connection finished. A connection only reaches its own
// shutdown-complete after every stream it started has called
// onStreamDone (successfully or not), so this alone is sufficient —
// gating on StreamsCompleted too would wrongly stall forever on a run
// with even one failed stream, since that stat only counts successes.
// Timed runs never complete this way; they run until Wait's timer fires.
func (c *Client) maybeComplete() {
	if c.Timed || c.RepeatConnections {
		return
	}
	if c.ConnectionsCompleted() >= uint64(c.ConnectionCount) {
		c.onConnectionsComplete()
	}
}
