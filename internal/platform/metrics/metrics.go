// Package metrics holds the Prometheus instruments of the lookup path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup outcomes.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeFetched  = "fetched"
	OutcomeNegative = "negative_memo"
	OutcomeFailed   = "failed"
)

// CountryInvalid labels lookups whose country token did not parse.
const CountryInvalid = "invalid"

// Metrics provides observability for company lookups.
type Metrics struct {
	// Lookups by country, operation and outcome
	Lookups *prometheus.CounterVec

	// Upstream registry call latency by country and result kind
	UpstreamLatency *prometheus.HistogramVec

	// Versions written to the cache store
	VersionsStored *prometheus.CounterVec

	// Superseded versions tombstoned by the sweeper
	Tombstoned prometheus.Counter
}

// New registers every instrument with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_lookups_total",
			Help: "Company lookups by country, operation and outcome",
		}, []string{"country", "operation", "outcome"}),

		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_upstream_duration_seconds",
			Help:    "Duration of national registry calls by country and result",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"country", "result"}),

		VersionsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_cache_versions_stored_total",
			Help: "Company versions appended to the cache store",
		}, []string{"country"}),

		Tombstoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_cache_tombstoned_total",
			Help: "Superseded company versions tombstoned by the sweeper",
		}),
	}
}

// IncLookup records the outcome of one orchestrator call.
func (m *Metrics) IncLookup(country, operation, outcome string) {
	if m != nil {
		m.Lookups.WithLabelValues(country, operation, outcome).Inc()
	}
}

// ObserveUpstream records the duration of one registry call.
func (m *Metrics) ObserveUpstream(country, result string, d time.Duration) {
	if m != nil {
		m.UpstreamLatency.WithLabelValues(country, result).Observe(d.Seconds())
	}
}

// IncStored counts a new cache version.
func (m *Metrics) IncStored(country string) {
	if m != nil {
		m.VersionsStored.WithLabelValues(country).Inc()
	}
}

// AddTombstoned counts versions tombstoned by one sweep.
func (m *Metrics) AddTombstoned(n int64) {
	if m != nil && n > 0 {
		m.Tombstoned.Add(float64(n))
	}
}
