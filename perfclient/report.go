package perfclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/URNOTCharlotte/msquic/percentiles"
)

// Report is the final, machine-readable summary of a run: one struct,
// marshaled with json.MarshalIndent, safe to pipe into another tool.
type Report struct {
	ConnectionsCompleted uint64               `json:"connectionsCompleted"`
	StreamsCompleted     uint64               `json:"streamsCompleted"`
	Duration             string               `json:"duration"`
	HandshakesPerSecond  float64              `json:"handshakesPerSecond"`
	Latency              *percentiles.Summary `json:"latency,omitempty"`
}

// Finalize builds the Report for a completed (or timed-out) run.
// elapsed should be the wall-clock duration Start through Wait.
func (c *Client) Finalize(elapsed time.Duration) Report {
	r := Report{
		ConnectionsCompleted: c.ConnectionsCompleted(),
		StreamsCompleted:     c.StreamsCompleted(),
		Duration:             elapsed.String(),
	}
	if elapsed > 0 {
		r.HandshakesPerSecond = float64(r.ConnectionsCompleted) / elapsed.Seconds()
	}
	if c.PrintLatency && c.latency.Count() > 0 {
		summary := percentiles.Summarize(c.latency.Samples())
		r.Latency = &summary
	}
	return r
}

// PrintFinalReport writes the human-readable summary as one line of
// Printf-style fields (plus a second latency line when the report has a
// latency summary), or (if requested) a JSON blob.
func (c *Client) PrintFinalReport(w io.Writer, r Report, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	_, err := fmt.Fprintf(w, "Connections: %d, Streams: %d, HPS: %.1f, Duration: %s\n",
		r.ConnectionsCompleted, r.StreamsCompleted, r.HandshakesPerSecond, r.Duration)
	if err != nil {
		return err
	}
	if r.Latency != nil {
		_, err = fmt.Fprintf(w, "Latency (us): p50=%d p90=%d p99=%d p99.9=%d max=%d (%d samples)\n",
			r.Latency.Quantile50, r.Latency.Quantile90, r.Latency.Quantile99,
			r.Latency.Quantile999, r.Latency.Max, r.Latency.Samples)
	}
	return err
}

// RunIntervalReports prints a throughput line every interval until ctx
// is canceled. It compares the aggregate counters against their values
// at the start of each tick to report a per-interval rate rather than
// a cumulative one.
func (c *Client) RunIntervalReports(ctx context.Context, w io.Writer, interval time.Duration) {
	if interval <= 0 || !c.PrintThroughput {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastConns, lastStreams uint64
	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			conns := c.ConnectionsCompleted()
			streams := c.StreamsCompleted()
			elapsed := now.Sub(lastTime).Seconds()
			var hps float64
			if elapsed > 0 {
				hps = float64(conns-lastConns) / elapsed
			}
			fmt.Fprintf(w, "%s active=%d completed=%d streams=%d hps=%.1f\n",
				now.Format(time.RFC3339), c.ConnectionsActive(), conns, streams-lastStreams, hps)
			lastConns, lastStreams, lastTime = conns, streams, now
		}
	}
}
