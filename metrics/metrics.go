// Package metrics exposes Prometheus instrumentation for search jobs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tokensweep"

// Batch outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeSerial    = "serial"
)

// Metrics holds the collectors for one registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests          *prometheus.CounterVec
	requestDuration   prometheus.Histogram
	rateLimited       prometheus.Counter
	tokenSwitches     prometheus.Counter
	itemsFetched      prometheus.Counter
	batches           *prometheus.CounterVec
	cooldowns         prometheus.Counter
	credentialsLeased prometheus.Gauge
	jobs              *prometheus.CounterVec
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Search API requests by HTTP status",
		}, []string{"status"}),
		requestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Search API request latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Responses classified as rate limited",
		}),
		tokenSwitches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_switches_total",
			Help:      "Credential rotations after repeated failures",
		}),
		itemsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Raw result items fetched",
		}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Scheduler batches by outcome",
		}, []string{"outcome"}),
		cooldowns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldowns_total",
			Help:      "Inter-batch cooldowns",
		}),
		credentialsLeased: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credentials_leased",
			Help:      "Credentials currently leased from the pool",
		}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished search jobs by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveRequest records one search request. status is 0 for transport
// failures.
func (m *Metrics) ObserveRequest(status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(label).Inc()
	m.requestDuration.Observe(d.Seconds())
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) TokenSwitched() {
	if m != nil {
		m.tokenSwitches.Inc()
	}
}

func (m *Metrics) ItemsFetched(n int) {
	if m != nil && n > 0 {
		m.itemsFetched.Add(float64(n))
	}
}

func (m *Metrics) Batch(outcome string) {
	if m != nil {
		m.batches.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Cooldown() {
	if m != nil {
		m.cooldowns.Inc()
	}
}

// SetLeased tracks the pool's leased count; it matches the pool's
// OnLeasedChange callback signature.
func (m *Metrics) SetLeased(n int) {
	if m != nil {
		m.credentialsLeased.Set(float64(n))
	}
}

func (m *Metrics) Job(outcome string) {
	if m != nil {
		m.jobs.WithLabelValues(outcome).Inc()
	}
}
