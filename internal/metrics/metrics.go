// Package metrics exposes Prometheus instrumentation for the capture and
// dispatch pipeline. Collection always runs; the HTTP listener is opt-in.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the daemon records into. Each instance
// carries its own registry so construction is repeatable.
type Metrics struct {
	registry *prometheus.Registry

	FramesCaptured   prometheus.Counter
	RingOverflows    prometheus.Counter
	ChunksProduced   prometheus.Counter
	SpeechChunks     prometheus.Counter
	SegmentsEmitted  prometheus.Counter
	SegmentDuration  prometheus.Histogram
	SessionsFinished *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	DispatchInflight prometheus.Gauge
	DispatchResults  *prometheus.CounterVec
	DispatchLatency  prometheus.Histogram
	DispatchRetries  prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoes_frames_captured_total",
			Help: "Total number of audio frames read from the capture device",
		}),
		RingOverflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoes_ring_overflows_total",
			Help: "Total number of frames dropped because the ring buffer was full",
		}),
		ChunksProduced: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoes_chunks_produced_total",
			Help: "Total number of 20ms mono chunks emitted by the resampler",
		}),
		SpeechChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoes_speech_chunks_total",
			Help: "Total number of chunks classified as speech",
		}),
		SegmentsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoes_segments_emitted_total",
			Help: "Total number of speech segments produced by the segmenter",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echoes_segment_duration_seconds",
			Help:    "Duration of emitted speech segments",
			Buckets: prometheus.ExponentialBuckets(0.3, 2, 11),
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echoes_sessions_finished_total",
			Help: "Total number of recording sessions by outcome",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echoes_session_duration_seconds",
			Help:    "Wall-clock duration of recording sessions",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
		}),

		DispatchInflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "echoes_dispatch_inflight",
			Help: "Number of transcription requests currently in flight",
		}),
		DispatchResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echoes_dispatch_results_total",
			Help: "Total number of transcription requests by result",
		}, []string{"result"}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echoes_dispatch_latency_seconds",
			Help:    "End-to-end latency of transcription requests including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		DispatchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoes_dispatch_retries_total",
			Help: "Total number of transcription request retries",
		}),
	}
}

// RecordSessionFinished records one completed session with its outcome
// ("dispatched", "cancelled", "empty", or "error").
func (m *Metrics) RecordSessionFinished(outcome string, duration time.Duration) {
	m.SessionsFinished.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordDispatchResult records one finished request ("ok", "failed", or
// "discarded") and its latency.
func (m *Metrics) RecordDispatchResult(result string, latency time.Duration) {
	m.DispatchResults.WithLabelValues(result).Inc()
	m.DispatchLatency.Observe(latency.Seconds())
}

// Server exposes the registry over HTTP at /metrics.
type Server struct {
	logger *slog.Logger
	srv    *http.Server
}

// Serve starts the metrics listener on bind. It returns once the listener
// is accepting; shutdown happens via Close.
func (m *Metrics) Serve(bind string, logger *slog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	logger.Info("metrics listening", "bind", listener.Addr().String())
	return &Server{logger: logger, srv: srv}, nil
}

// Close shuts the listener down, waiting briefly for in-flight scrapes.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Handler returns the scrape handler, mainly for tests.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
