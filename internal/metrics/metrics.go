// Package metrics exposes capture pipeline counters and gauges in
// Prometheus format. Dropped frames are counted here because producer-side
// allocation failures are absorbed, never escalated; without the counter
// the data loss would be silent.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FramesCaptured *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	BytesEnqueued  *prometheus.CounterVec
	PacketsWritten prometheus.Counter
	WriteErrors    prometheus.Counter
}

// New creates the pipeline metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckgrab_frames_captured_total",
			Help: "Frames delivered by the capture device, per stream.",
		}, []string{"stream"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckgrab_frames_dropped_total",
			Help: "Frames dropped because the packet queue refused them.",
		}, []string{"stream"}),
		BytesEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckgrab_bytes_enqueued_total",
			Help: "Payload bytes accepted into the packet queue, per stream.",
		}, []string{"stream"}),
		PacketsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckgrab_packets_written_total",
			Help: "Packets accepted by the container muxer.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckgrab_mux_write_errors_total",
			Help: "Packets rejected by the container muxer.",
		}),
	}

	m.registry.MustRegister(
		m.FramesCaptured,
		m.FramesDropped,
		m.BytesEnqueued,
		m.PacketsWritten,
		m.WriteErrors,
	)
	return m
}

// ObserveQueue registers gauges backed by the queue's own snapshots.
func (m *Metrics) ObserveQueue(size func() uint64, length func() int) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "deckgrab_queue_bytes",
			Help: "Accounted bytes currently resident in the packet queue.",
		}, func() float64 { return float64(size()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "deckgrab_queue_packets",
			Help: "Packets currently resident in the packet queue.",
		}, func() float64 { return float64(length()) }),
	)
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics listener on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
