package blinkbench

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.viam.com/rdk/logging"
)

const (
	transmitSafe      = "known-good"
	transmitBad       = "known-bad"
	transmitCandidate = "candidate"
)

// benchMetrics holds the controller's collectors. A nil *benchMetrics is a
// valid no-op so the protocol can run without instrumentation.
type benchMetrics struct {
	registry        *prometheus.Registry
	trials          *prometheus.CounterVec
	resets          *prometheus.CounterVec
	transmissions   *prometheus.CounterVec
	blinkPercentage prometheus.Gauge
	windowSamples   prometheus.Histogram
}

func newBenchMetrics() *benchMetrics {
	m := &benchMetrics{
		registry: prometheus.NewRegistry(),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blinkbench_trials_total",
			Help: "Completed candidate trials by outcome.",
		}, []string{"outcome"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blinkbench_protocol_resets_total",
			Help: "Protocol restarts at the known-good step, by cause.",
		}, []string{"reason"}),
		transmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blinkbench_transmissions_total",
			Help: "Patterns sent to the transmitter, by kind.",
		}, []string{"kind"}),
		blinkPercentage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blinkbench_window_blink_percentage",
			Help: "Blink percentage of the most recently closed window.",
		}),
		windowSamples: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blinkbench_window_samples",
			Help:    "Optical samples integrated per window.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	m.registry.MustRegister(m.trials, m.resets, m.transmissions, m.blinkPercentage, m.windowSamples)
	return m
}

func (m *benchMetrics) observeWindow(v Verdict) {
	if m == nil {
		return
	}
	m.blinkPercentage.Set(v.Percentage)
	m.windowSamples.Observe(float64(v.Samples))
}

func (m *benchMetrics) transmitted(kind string) {
	if m == nil {
		return
	}
	m.transmissions.WithLabelValues(kind).Inc()
}

func (m *benchMetrics) trialRecorded(r TrialResult) {
	if m == nil {
		return
	}
	m.trials.WithLabelValues(string(r.Outcome)).Inc()
}

func (m *benchMetrics) protocolReset(reason string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(reason).Inc()
}

// serve exposes the registry on addr until the returned server is closed.
func (m *benchMetrics) serve(addr string, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server on %s stopped: %v", addr, err)
		}
	}()
	logger.Infof("serving metrics on %s/metrics", addr)
	return srv
}
