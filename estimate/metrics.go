package estimate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	transfers       *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	refreshDuration prometheus.Histogram
}

// NewMetrics registers the engine collectors with reg. A nil reg gets a
// private registry so several engines can coexist in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estimate",
			Name:      "transfers_total",
			Help:      "Material transfers by mode and outcome.",
		}, []string{"mode", "outcome"}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estimate",
			Name:      "resolutions_total",
			Help:      "Conflict resolutions by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estimate",
			Name:      "store_errors_total",
			Help:      "Failed store operations.",
		}, []string{"op"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "estimate",
			Name:      "refresh_duration_seconds",
			Help:      "Time to reload and re-aggregate a position.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) transfer(mode Mode, outcome string) {
	m.transfers.WithLabelValues(string(mode), outcome).Inc()
}

func (m *Metrics) resolution(strategy Strategy, err error) {
	outcome := "resolved"
	if err != nil {
		outcome = "failed"
	}
	m.resolutions.WithLabelValues(string(strategy), outcome).Inc()
}

func (m *Metrics) storeError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) observeRefresh(d time.Duration) {
	m.refreshDuration.Observe(d.Seconds())
}
