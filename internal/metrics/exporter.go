package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/config"
)

// Exporter publishes round results as Prometheus metrics on a private
// registry.
type Exporter struct {
	registry *prometheus.Registry

	rounds        *prometheus.CounterVec
	sent          *prometheus.CounterVec
	received      *prometheus.CounterVec
	lost          *prometheus.CounterVec
	throughput    *prometheus.GaugeVec
	bandwidth     *prometheus.GaugeVec
	lossRate      *prometheus.GaugeVec
	cpuPeak       *prometheus.GaugeVec
	workingSet    *prometheus.GaugeVec
	latencyP99    *prometheus.GaugeVec
	roundDuration *prometheus.HistogramVec
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithLiveCPU exports fn as the current process CPU percentage.
func WithLiveCPU(fn func() float64) ExporterOption {
	return func(e *Exporter) {
		promauto.With(e.registry).NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tpbench_process_cpu_percent",
			Help: "Most recent process CPU utilization sample",
		}, fn)
	}
}

// WithLiveProgress exports fn's sent and received counts for the round in
// flight.
func WithLiveProgress(fn func() (sent, received int64)) ExporterOption {
	return func(e *Exporter) {
		f := promauto.With(e.registry)
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tpbench_inflight_sent_messages",
			Help: "Messages sent so far in the current round",
		}, func() float64 { s, _ := fn(); return float64(s) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tpbench_inflight_received_messages",
			Help: "Messages received so far in the current round",
		}, func() float64 { _, r := fn(); return float64(r) })
	}
}

// NewExporter builds an exporter with Go runtime and process collectors.
func NewExporter(opts ...ExporterOption) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	labels := []string{"profile", "role"}

	e := &Exporter{
		registry: reg,
		rounds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tpbench_rounds_total",
			Help: "Completed benchmark rounds",
		}, labels),
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tpbench_messages_sent_total",
			Help: "DATA messages written by publishers",
		}, labels),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tpbench_messages_received_total",
			Help: "DATA messages counted by subscribers",
		}, labels),
		lost: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tpbench_messages_lost_total",
			Help: "Expected messages that were not delivered",
		}, labels),
		throughput: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpbench_round_throughput_messages_per_second",
			Help: "Throughput of the last round",
		}, labels),
		bandwidth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpbench_round_bandwidth_mbps",
			Help: "Bandwidth of the last round in Mbit/s",
		}, labels),
		lossRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpbench_round_loss_percent",
			Help: "Loss rate of the last round",
		}, labels),
		cpuPeak: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpbench_round_cpu_peak_percent",
			Help: "Peak process CPU of the last round (-1 no data, -2 error)",
		}, labels),
		workingSet: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpbench_round_peak_working_set_kb",
			Help: "Peak working set at the end of the last round",
		}, labels),
		latencyP99: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpbench_round_latency_p99_seconds",
			Help: "99th percentile one-way latency of the last round",
		}, labels),
		roundDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tpbench_round_duration_seconds",
			Help:    "Measured transfer window per round",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, labels),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Observe records one round.
func (e *Exporter) Observe(s RoundSummary) {
	lv := []string{s.Profile, string(s.Role)}
	e.rounds.WithLabelValues(lv...).Inc()
	if s.Role == config.RolePublisher {
		e.sent.WithLabelValues(lv...).Add(float64(s.Delivered))
	} else {
		e.received.WithLabelValues(lv...).Add(float64(s.Delivered))
	}
	e.lost.WithLabelValues(lv...).Add(float64(s.Lost))
	e.throughput.WithLabelValues(lv...).Set(s.Throughput)
	e.bandwidth.WithLabelValues(lv...).Set(s.BandwidthMbps)
	e.lossRate.WithLabelValues(lv...).Set(s.LossRate)
	e.cpuPeak.WithLabelValues(lv...).Set(s.CPUPeak)
	e.workingSet.WithLabelValues(lv...).Set(float64(s.PeakWorkingSetKB))
	e.latencyP99.WithLabelValues(lv...).Set(s.Latency.P99.Seconds())
	e.roundDuration.WithLabelValues(lv...).Observe(s.Elapsed.Seconds())
}

// Registry exposes the private registry, mainly for tests.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Serve listens on addr until ctx is done. The listener is bound before
// Serve returns so a bad address fails fast.
func (e *Exporter) Serve(ctx context.Context, addr string, logger *zap.Logger) (<-chan error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: e.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics endpoint listening", zap.String("addr", ln.Addr().String()))
	return errCh, nil
}
