package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the lookup cache.
type Metrics struct {
	// Cache lookups by outcome ("hit", "miss")
	Lookups *prometheus.CounterVec

	// Failed directory opens and queries by stage ("open", "lookup")
	DirectoryErrors *prometheus.CounterVec

	// Expired entries purged to make room
	Evictions prometheus.Counter

	// Fresh results dropped because the cache was full of live entries
	SkippedAdmissions prometheus.Counter

	// Current number of cached results, expired ones included
	Entries prometheus.Gauge

	// Directory lookup latency, including the open when one was needed
	DirectoryLatency prometheus.Histogram
}

// New creates a Metrics instance registered against reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usercheck_cache_lookups_total",
			Help: "Total cache lookups by outcome",
		}, []string{"outcome"}),

		DirectoryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usercheck_directory_errors_total",
			Help: "Total directory failures by stage",
		}, []string{"stage"}),

		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "usercheck_cache_evictions_total",
			Help: "Total expired entries evicted from the cache",
		}),

		SkippedAdmissions: factory.NewCounter(prometheus.CounterOpts{
			Name: "usercheck_cache_skipped_admissions_total",
			Help: "Total results not cached because the cache was full",
		}),

		Entries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "usercheck_cache_entries",
			Help: "Current number of cached results",
		}),

		DirectoryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "usercheck_directory_lookup_duration_seconds",
			Help:    "Duration of directory lookups on cache misses",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// IncrementHit records a cache hit.
func (m *Metrics) IncrementHit() {
	if m != nil {
		m.Lookups.WithLabelValues("hit").Inc()
	}
}

// IncrementMiss records a cache miss.
func (m *Metrics) IncrementMiss() {
	if m != nil {
		m.Lookups.WithLabelValues("miss").Inc()
	}
}

// IncrementDirectoryError records a failed directory open or query.
func (m *Metrics) IncrementDirectoryError(stage string) {
	if m != nil {
		m.DirectoryErrors.WithLabelValues(stage).Inc()
	}
}

// AddEvictions records expired entries purged by a sweep.
func (m *Metrics) AddEvictions(n int) {
	if m != nil && n > 0 {
		m.Evictions.Add(float64(n))
	}
}

// IncrementSkippedAdmission records a result that was not cached.
func (m *Metrics) IncrementSkippedAdmission() {
	if m != nil {
		m.SkippedAdmissions.Inc()
	}
}

// SetEntries records the current cache size.
func (m *Metrics) SetEntries(n int) {
	if m != nil {
		m.Entries.Set(float64(n))
	}
}

// ObserveDirectoryLatency records the duration of a directory lookup.
func (m *Metrics) ObserveDirectoryLatency(d time.Duration) {
	if m != nil {
		m.DirectoryLatency.Observe(d.Seconds())
	}
}
