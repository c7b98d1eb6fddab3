// Package metrics exposes live run counters over Prometheus: connection
// and stream throughput, active connection count, and bytes
// transferred.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	ConnectionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perfclient",
		Name:      "connections_started_total",
		Help:      "Total connection attempts started.",
	})
	ConnectionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perfclient",
		Name:      "connections_completed_total",
		Help:      "Total connections that reached a terminal state.",
	})
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perfclient",
		Name:      "connections_active",
		Help:      "Connections currently in flight.",
	})
	StreamsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perfclient",
		Name:      "streams_completed_total",
		Help:      "Total streams that completed successfully.",
	})
	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perfclient",
		Name:      "bytes_sent_total",
		Help:      "Total upload bytes handed to the transport.",
	})
	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perfclient",
		Name:      "bytes_received_total",
		Help:      "Total download bytes received from the transport.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsStarted,
		ConnectionsCompleted,
		ConnectionsActive,
		StreamsCompleted,
		BytesSent,
		BytesReceived,
	)
}

// Serve starts the /metrics endpoint on addr and runs until ctx is
// canceled. An error from ListenAndServe other than http.ErrServerClosed
// is logged but never fatal — a dead metrics endpoint shouldn't abort
// a run in progress.
func Serve(ctx context.Context, addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("metrics server stopped")
	}
}
