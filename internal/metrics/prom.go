package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Relay request outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeInvalid       = "invalid"
	OutcomeUpstreamError = "upstream_error"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "promptrelay_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	relayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrelay_relay_requests_total",
			Help: "Relay requests by outcome",
		},
		[]string{"outcome"},
	)

	relayInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptrelay_relay_inflight",
			Help: "Relay requests currently waiting on the upstream provider",
		},
	)

	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptrelay_upstream_duration_seconds",
			Help:    "Upstream completion call duration",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"model", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, relayRequests, relayInflight, upstreamDuration)
}

// SetServerBuildInfo sets the build info metric for the server.
func SetServerBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordRelayRequest increments the relay request counter for outcome.
func RecordRelayRequest(outcome string) {
	relayRequests.WithLabelValues(outcome).Inc()
}

// UpstreamStart marks an upstream call as in flight and returns a function
// that records its duration and outcome.
func UpstreamStart(model string) func(success bool) {
	relayInflight.Inc()
	start := time.Now()
	return func(success bool) {
		relayInflight.Dec()
		ObserveUpstreamDuration(model, success, time.Since(start))
	}
}

// ObserveUpstreamDuration records the duration of an upstream call.
func ObserveUpstreamDuration(model string, success bool, d time.Duration) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeUpstreamError
	}
	upstreamDuration.WithLabelValues(model, outcome).Observe(d.Seconds())
}
