package perfclient

import (
	"context"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/URNOTCharlotte/msquic/affinity"
)

// connectTimeout bounds a single connection attempt; it is generous
// since the handshake itself is what's being measured, not this guard.
const connectTimeout = 30 * time.Second

// Worker owns one logical processor's share of the run: its own
// goroutine loop, its own connection/stream counters, and (when
// AffinitizeWorkers is set) its own pinned OS thread. Workers never
// touch each other's state; the Client only reads their atomic
// counters.
type Worker struct {
	client    *Client
	processor int
	target    string
	localAddr netip.AddrPort

	newConnCh chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup

	connectionsCompleted atomic.Uint64
	connectionsActive    atomic.Uint64
	streamsCompleted     atomic.Uint64

	connPool *objectPool[Connection]
}

func newWorker(c *Client, processor int, target string) *Worker {
	w := &Worker{
		client:    c,
		processor: processor,
		target:    target,
		newConnCh: make(chan struct{}, 4096),
		stopCh:    make(chan struct{}),
	}
	w.connPool = newObjectPool(func() *Connection { return &Connection{worker: w} })
	return w
}

func (w *Worker) start() error {
	w.wg.Add(1)
	go w.run()
	return nil
}

// run is the worker's dispatch loop: one queued signal spawns one
// connection attempt on its own goroutine, so a slow handshake never
// stalls the next one's dequeue.
func (w *Worker) run() {
	defer w.wg.Done()
	if w.client.AffinitizeWorkers {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := affinity.Pin(w.processor); err != nil {
			w.client.log.WithError(err).WithField("processor", w.processor).Warn("failed to affinitize worker")
		}
	}
	for {
		select {
		case <-w.newConnCh:
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.startConnection()
			}()
		case <-w.stopCh:
			return
		}
	}
}

// queueNewConnection signals the worker loop to spawn one more
// connection attempt. Never blocks the caller.
func (w *Worker) queueNewConnection() {
	select {
	case w.newConnCh <- struct{}{}:
	default:
		go func() { w.newConnCh <- struct{}{} }()
	}
}

func (w *Worker) stopAndJoin() {
	close(w.stopCh)
	w.wg.Wait()
}

// startConnection drives one connection end-to-end, and — when
// RepeatConnections is set and the run is still active — immediately
// starts its replacement once it finishes. This is how a worker keeps
// ConnectionCount connections in flight for the whole RunTime instead
// of opening them once and idling.
func (w *Worker) startConnection() {
	c := w.client
	for {
		cw := newConnection(w)
		cw.run(context.Background())
		// run only returns after onShutdownComplete (or a failed Connect)
		// has already fired, so nothing else can still be touching cw.
		w.connPool.Free(cw)
		if !c.RepeatConnections || !c.running.Load() {
			return
		}
	}
}
