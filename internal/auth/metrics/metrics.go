package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes.
const (
	OutcomeRefreshed      = "refreshed"
	OutcomeFresh          = "fresh"
	OutcomeReused         = "reused"
	OutcomeDeferred       = "deferred"
	OutcomeFailed         = "failed"
	OutcomeNoRefreshToken = "no_refresh_token"
)

// Metrics holds the session lifecycle Prometheus metrics.
type Metrics struct {
	RefreshOutcomes   *prometheus.CounterVec
	RefreshDuration   prometheus.Histogram
	SessionsCreated   prometheus.Counter
	SessionsDeleted   *prometheus.CounterVec
	StoreWriteFailure prometheus.Counter
}

// New creates and registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RefreshOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_token_refresh_total",
			Help: "Token refresh decisions by outcome",
		}, []string{"outcome"}),
		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockroom_token_refresh_duration_seconds",
			Help:    "Latency of vendor refresh-token exchanges",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "stockroom_sessions_created_total",
			Help: "Sessions created after a successful OAuth callback",
		}),
		SessionsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_sessions_deleted_total",
			Help: "Sessions deleted by reason",
		}, []string{"reason"}),
		StoreWriteFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "stockroom_session_store_write_failures_total",
			Help: "Session writes that failed and were swallowed",
		}),
	}
}

func (m *Metrics) ObserveRefresh(outcome string) {
	m.RefreshOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRefreshDuration(seconds float64) {
	m.RefreshDuration.Observe(seconds)
}

func (m *Metrics) IncrementSessionsCreated() {
	m.SessionsCreated.Inc()
}

func (m *Metrics) IncrementSessionsDeleted(reason string) {
	m.SessionsDeleted.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementStoreWriteFailures() {
	m.StoreWriteFailure.Inc()
}
