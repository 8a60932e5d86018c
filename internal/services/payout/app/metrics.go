package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apperrors "github.com/louisbranch/payoutcore/internal/platform/errors"
)

// Metrics holds the orchestrator's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	requests         *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	lockdownActive   prometheus.Gauge
	lockdownTrips    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "payout",
				Name:      "requests_total",
				Help:      "Payout and refund requests by kind and result code",
			},
			[]string{"kind", "code"},
		),
		transferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "payout",
				Name:      "transfer_duration_seconds",
				Help:      "Time from building a transfer to its terminal outcome",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"state"},
		),
		lockdownActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "payout",
				Name:      "lockdown_active",
				Help:      "1 while payouts are locked down",
			},
		),
		lockdownTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "payout",
				Name:      "lockdown_trips_total",
				Help:      "Number of times the failure lockdown tripped",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.transferDuration, m.lockdownActive, m.lockdownTrips)
	}
	return m
}

func (m *Metrics) observeRequest(kind string, code apperrors.Code) {
	if m == nil {
		return
	}
	label := string(code)
	if label == "" {
		label = "OK"
	}
	m.requests.WithLabelValues(kind, label).Inc()
}

func (m *Metrics) observeTransfer(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transferDuration.WithLabelValues(state).Observe(elapsed.Seconds())
}

func (m *Metrics) setLockdown(active bool) {
	if m == nil {
		return
	}
	if active {
		m.lockdownActive.Set(1)
		return
	}
	m.lockdownActive.Set(0)
}

func (m *Metrics) lockdownTripped() {
	if m == nil {
		return
	}
	m.lockdownTrips.Inc()
	m.lockdownActive.Set(1)
}
