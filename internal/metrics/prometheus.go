package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics contains the Prometheus metrics for a looper session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Device side
	ChunksReceived prometheus.Counter
	DecodeErrors   *prometheus.CounterVec

	// Recorder
	PayloadsRecorded  prometheus.Counter
	PayloadsDiscarded prometheus.Counter
	LoopsCompleted    prometheus.Counter
	LoopDuration      prometheus.Histogram
	BufferPosition    prometheus.Gauge
	RecorderState     prometheus.Gauge

	// Façade
	Oneshots prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "jammin_chunks_received_total",
			Help: "Total number of encoded chunks delivered by the recording device",
		}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jammin_decode_errors_total",
			Help: "Total number of chunks dropped because they could not be decoded",
		}, []string{"kind"}),
		PayloadsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "jammin_payloads_recorded_total",
			Help: "Total number of payloads copied into the capture buffer",
		}),
		PayloadsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "jammin_payloads_discarded_total",
			Help: "Total number of payloads that ended before recording started",
		}),
		LoopsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "jammin_loops_completed_total",
			Help: "Total number of completed loops",
		}),
		LoopDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jammin_loop_duration_seconds",
			Help:    "Duration of completed loops",
			Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		BufferPosition: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jammin_buffer_position_samples",
			Help: "Current write cursor of the capture buffer",
		}),
		RecorderState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jammin_recorder_state",
			Help: "Recorder state (0 inactive, 1 recording, 2 marked inactive)",
		}),
		Oneshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "jammin_oneshots_total",
			Help: "Total number of one-shot playbacks started",
		}),
	}
}

func (m *Metrics) ChunkReceived() {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
}

func (m *Metrics) DecodeError(kind string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) PayloadRecorded(position int) {
	if m == nil {
		return
	}
	m.PayloadsRecorded.Inc()
	m.BufferPosition.Set(float64(position))
}

func (m *Metrics) PayloadDiscarded() {
	if m == nil {
		return
	}
	m.PayloadsDiscarded.Inc()
}

func (m *Metrics) LoopCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.LoopsCompleted.Inc()
	m.LoopDuration.Observe(d.Seconds())
	m.BufferPosition.Set(0)
}

func (m *Metrics) StateChanged(state int) {
	if m == nil {
		return
	}
	m.RecorderState.Set(float64(state))
}

func (m *Metrics) OneshotStarted() {
	if m == nil {
		return
	}
	m.Oneshots.Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown error")
		}
	}()

	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
