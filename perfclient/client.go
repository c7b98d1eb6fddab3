// Package perfclient implements the worker-per-processor load
// generation driver: the Client/Worker/Connection/Stream state
// machines that drive a QUIC or TCP run end to end. It never imports
// quic-go or crypto/tls directly — those live behind the transport
// package.
package perfclient

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/URNOTCharlotte/msquic/affinity"
	"github.com/URNOTCharlotte/msquic/metrics"
	"github.com/URNOTCharlotte/msquic/transport"
)

// perfMaxRequestsPerSecond bounds the latency ring's size in timed and
// repeat modes, matching the original's PERF_MAX_REQUESTS_PER_SECOND constant
// used to avoid an unbounded allocation for very long runs.
const perfMaxRequestsPerSecond = 1_000_000

// maxLatencySamples caps MaxLatencyIndex so the latency buffer's byte
// length (4 bytes per sample) always fits a uint32 counter.
const maxLatencySamples = (1<<32 - 1) / 4

// Client is the top-level coordinator: it parses the scenario,
// resolves the remote address once, spawns workers, distributes
// connection quota round-robin, waits for completion or timeout, and
// aggregates results. Every exported field is immutable once Init
// returns successfully.
type Client struct {
	Target            string
	TargetFamily      transport.AddressFamily
	TargetPort        uint16
	CibirID           []byte
	IncrementTarget   bool
	WorkerCount       uint32
	AffinitizeWorkers bool
	BindAddrs         []netip.Addr
	ShareBinding      bool
	UseTCP            bool
	UseEncryption     bool
	UsePacing         bool
	UseSendBuffering  bool
	PrintThroughput   bool
	PrintConnections  bool
	PrintStreams      bool
	PrintLatency      bool
	ConnectionCount   uint32
	StreamCount       uint32
	IoSize            uint32
	Upload            uint64
	Download          uint64
	Timed             bool
	RepeatConnections bool
	RepeatStreams     bool
	RunTime           time.Duration

	// Ambient additions: metrics endpoint, interval reporting, logging
	// verbosity. Not part of the scenario grammar.
	MetricAddr string
	Interval   time.Duration
	Verbose    bool

	log *logrus.Logger

	requestBuf      *requestBuffer
	latency         *latencyRing
	maxLatencyIndex uint64

	running    atomic.Bool
	completion chan struct{}
	closeOnce  sync.Once

	engine  transport.Engine
	workers []*Worker

	remoteAddr netip.AddrPort
}

// New returns a Client with a logger but otherwise zero configuration;
// call Init to populate it from CLI-style arguments.
func New(log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{log: log, completion: make(chan struct{})}
}

// Init parses "-name:value" args and validates the scenario, mirroring
// the original PerfClient::Init's validation order so the same inputs
// fail for the same reasons. It never calls os.Exit; callers at the
// cmd boundary decide what to do with the error.
func (c *Client) Init(args []string) error {
	m := parseArgs(args)

	target, ok := m.str("target", "server")
	if !ok || target == "" {
		return fmt.Errorf("%w: must specify 'target' (or 'server')", ErrInvalidParameter)
	}
	c.Target = target

	if family, ok := m.str("ip"); ok {
		switch family {
		case "4":
			c.TargetFamily = transport.IPv4
		case "6":
			c.TargetFamily = transport.IPv6
		}
	}

	port, ok, err := m.u16("port")
	if err != nil {
		return fmt.Errorf("%w: port: %v", ErrInvalidParameter, err)
	}
	if ok {
		c.TargetPort = port
	} else {
		c.TargetPort = DefaultPort
	}

	if v, ok, err := m.boolv("incrementtarget"); err != nil {
		return fmt.Errorf("%w: incrementtarget: %v", ErrInvalidParameter, err)
	} else if ok {
		c.IncrementTarget = v
	}

	if hexStr, ok := m.str("cibir"); ok {
		cibir, err := transport.DecodeCibir(hexStr)
		if err != nil {
			return fmt.Errorf("%w: cibir id must be a hex string <= 6 bytes", ErrInvalidParameter)
		}
		c.CibirID = cibir
	}

	c.WorkerCount = uint32(len(affinity.ActiveProcessors()))
	if v, ok, err := m.u32("threads", "workers"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.WorkerCount = v
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 1
	}

	if v, ok, err := m.boolv("affinitize"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.AffinitizeWorkers = v
	}

	if v, ok, err := m.boolv("share"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.ShareBinding = v
	}

	if bindStr, ok := m.str("bind"); ok {
		c.ShareBinding = true
		addrs, err := parseBindList(bindStr)
		if err != nil {
			return fmt.Errorf("%w: failed to decode bind address(es): %v", ErrInvalidParameter, err)
		}
		c.BindAddrs = addrs
	}

	if v, ok, err := m.boolv("tcp"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.UseTCP = v
	}

	c.UseEncryption = true
	if v, ok, err := m.boolv("encrypt"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.UseEncryption = v
	}

	c.UsePacing = true
	if v, ok, err := m.boolv("pacing"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.UsePacing = v
	}

	if v, ok, err := m.boolv("sendbuf"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.UseSendBuffering = v
	}

	if v, ok, err := m.boolv("ptput"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.PrintThroughput = v
	}
	if v, ok, err := m.boolv("pconnection", "pconn"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.PrintConnections = v
	}
	if v, ok, err := m.boolv("pstream"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.PrintStreams = v
	}
	if v, ok, err := m.boolv("platency", "plat"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.PrintLatency = v
	}

	c.ConnectionCount = 1
	if v, ok, err := m.u32("conns"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.ConnectionCount = v
	}

	if v, ok, err := m.u32("requests", "streams"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.StreamCount = v
	}

	c.IoSize = DefaultIoSize
	if v, ok, err := m.u32("iosize"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.IoSize = v
	}
	if c.IoSize < MinIoSize {
		return fmt.Errorf("%w: 'iosize' too small", ErrInvalidParameter)
	}

	if v, ok, err := m.u64("request", "upload", "up"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.Upload = v
	}
	if v, ok, err := m.u64("response", "download", "down"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.Download = v
	}
	if v, ok, err := m.boolv("timed"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.Timed = v
	}
	if v, ok, err := m.boolv("rconn"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.RepeatConnections = v
	}
	if v, ok, err := m.boolv("rstream"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.RepeatStreams = v
	}
	if v, ok, err := m.durationMs("runtime", "time", "run"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	} else if ok {
		c.RunTime = v
	}

	if (c.RepeatConnections || c.RepeatStreams) && c.RunTime == 0 {
		return fmt.Errorf("%w: must specify a 'runtime' if using a repeat parameter", ErrInvalidParameter)
	}

	if c.UseTCP && !c.UseEncryption {
		return fmt.Errorf("%w: TCP mode doesn't support disabling encryption", ErrInvalidParameter)
	}

	if (c.Upload > 0 || c.Download > 0) && c.StreamCount == 0 {
		c.StreamCount = 1
	}

	// Ambient options: not part of the scenario grammar, but harmless
	// to accept unconditionally.
	if addr, ok := m.str("metricaddr"); ok {
		c.MetricAddr = addr
	}
	c.Interval = 10 * time.Second
	if d, ok, err := m.durationMs("interval"); err == nil && ok {
		c.Interval = d
	}
	if v, ok, err := m.boolv("verbose"); err == nil && ok {
		c.Verbose = v
	}
	if c.Verbose {
		c.log.SetLevel(logrus.DebugLevel)
	}

	if c.UseTCP {
		c.engine = transport.NewTCPEngine()
	} else {
		c.engine = transport.NewQUICEngine(!c.UseEncryption, "perf", c.UsePacing)
	}

	c.requestBuf = newRequestBuffer(c.IoSize, c.Download, c.Timed)

	// The ring is sized the same whether or not PrintLatency is set:
	// PrintLatency only controls whether the summary gets printed at the
	// end, not whether samples are recorded in the first place. Timed and
	// repeat runs size it from whole seconds of RunTime, so a RunTime
	// under one second leaves no room for samples.
	if c.Timed || c.RepeatConnections || c.RepeatStreams {
		c.maxLatencyIndex = uint64(c.RunTime/time.Second) * perfMaxRequestsPerSecond
		if c.maxLatencyIndex > maxLatencySamples {
			c.maxLatencyIndex = maxLatencySamples
			c.log.Warnf("limiting request latency tracking to %d requests", c.maxLatencyIndex)
		}
	} else {
		c.maxLatencyIndex = uint64(c.ConnectionCount) * uint64(c.StreamCount)
	}
	c.latency = newLatencyRing(c.maxLatencyIndex)

	return nil
}

// Default option values.
const (
	DefaultPort   uint16 = 443
	DefaultIoSize uint32 = 8192
	MinIoSize     uint32 = 256
)

func parseBindList(s string) ([]netip.Addr, error) {
	var out []netip.Addr
	for _, part := range splitNonEmpty(s, ',') {
		if part == "*" {
			out = append(out, netip.IPv4Unspecified())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// Start resolves the remote address once (so individual connects skip
// DNS), assigns each worker the next active logical processor,
// launches worker goroutines, and enqueues ConnectionCount new
// connections round-robin across them.
func (c *Client) Start(ctx context.Context) error {
	resolved, err := resolveRemote(ctx, c.Target, c.TargetFamily)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	c.remoteAddr = netip.AddrPortFrom(resolved, c.TargetPort)

	if c.MetricAddr != "" {
		go metrics.Serve(ctx, c.MetricAddr, c.log)
	}

	processors := affinity.ActiveProcessors()
	if len(processors) == 0 {
		processors = []int{0}
	}

	c.running.Store(true)
	c.workers = make([]*Worker, c.WorkerCount)
	for i := uint32(0); i < c.WorkerCount; i++ {
		proc := processors[int(i)%len(processors)]
		w := newWorker(c, proc, c.workerTarget(i))
		if len(c.BindAddrs) > 0 {
			w.localAddr = netip.AddrPortFrom(c.BindAddrs[int(i)%len(c.BindAddrs)], 0)
		}
		c.workers[i] = w
		if err := w.start(); err != nil {
			return fmt.Errorf("%w on processor %d: %v", ErrThreadStartFailed, proc, err)
		}
	}

	for i := uint32(0); i < c.ConnectionCount; i++ {
		c.workers[i%c.WorkerCount].queueNewConnection()
	}

	return nil
}

// workerTarget builds the per-worker target hostname, optionally
// suffixed with a two-hex-digit worker index when IncrementTarget is
// set, so each worker resolves/presents a distinct SNI name.
func (c *Client) workerTarget(worker uint32) string {
	if !c.IncrementTarget {
		return c.Target
	}
	return fmt.Sprintf("%s%02X", c.Target, byte(worker))
}

func resolveRemote(ctx context.Context, target string, family transport.AddressFamily) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(target); err == nil {
		return addr, nil
	}
	network := "ip"
	switch family {
	case transport.IPv4:
		network = "ip4"
	case transport.IPv6:
		network = "ip6"
	}
	ipAddr, err := net.DefaultResolver.LookupIP(ctx, network, target)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(ipAddr) == 0 {
		return netip.Addr{}, fmt.Errorf("no addresses found for %q", target)
	}
	addr, ok := netip.AddrFromSlice(ipAddr[0])
	if !ok {
		return netip.Addr{}, fmt.Errorf("could not convert resolved address for %q", target)
	}
	return addr.Unmap(), nil
}

// Wait blocks until the run completes (all non-repeat work finished)
// or timeout elapses (0 means use RunTime; RunTime == 0 too means
// wait forever), then stops every worker and prints the completion
// summary.
func (c *Client) Wait(ctx context.Context, timeout time.Duration) {
	if timeout == 0 {
		timeout = c.RunTime
	}

	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-c.completion:
		case <-t.C:
		case <-ctx.Done():
		}
	} else {
		select {
		case <-c.completion:
		case <-ctx.Done():
		}
	}

	c.running.Store(false)
	var wg sync.WaitGroup
	for _, w := range c.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.stopAndJoin()
		}(w)
	}
	wg.Wait()

	c.log.Infof("Completed %d connections and %d streams!",
		c.ConnectionsCompleted(), c.StreamsCompleted())
}

// onConnectionsComplete is invoked by whichever worker first observes
// the aggregate completion predicate in non-repeat mode. Only the
// first caller actually closes the channel.
func (c *Client) onConnectionsComplete() {
	c.closeOnce.Do(func() { close(c.completion) })
}

// ConnectionsCompleted/StreamsCompleted sum the per-worker atomic
// counters; safe to call at any time, including while a run is active.
func (c *Client) ConnectionsCompleted() uint64 {
	var total uint64
	for _, w := range c.workers {
		total += w.connectionsCompleted.Load()
	}
	return total
}

func (c *Client) StreamsCompleted() uint64 {
	var total uint64
	for _, w := range c.workers {
		total += w.streamsCompleted.Load()
	}
	return total
}

func (c *Client) ConnectionsActive() uint64 {
	var total uint64
	for _, w := range c.workers {
		total += w.connectionsActive.Load()
	}
	return total
}

// LatencyCount returns the number of recorded latency samples.
func (c *Client) LatencyCount() uint64 { return c.latency.Count() }

// LatencySamples returns the recorded microsecond samples, for
// reporting or export.
func (c *Client) LatencySamples() []uint32 { return c.latency.Samples() }
