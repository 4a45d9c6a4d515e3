// Package metrics exposes optional Prometheus instrumentation for a
// Router: lookup latency, bucket occupancy, and eviction counts. None of
// the dht package's logic depends on this package; a Router that is never
// wired to a Collector behaves identically, just without the counters.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opd-ai/kadcore/dht"
)

var _ dht.MetricsRecorder = (*Collector)(nil)

// Collector bundles the metrics a Router reports into, if constructed with
// one. The zero value is not usable; use NewCollector.
type Collector struct {
	LookupDuration *prometheus.HistogramVec
	LookupsTotal   *prometheus.CounterVec
	BucketSize     *prometheus.GaugeVec
	EvictionsTotal prometheus.Counter
}

// NewCollector builds a Collector and registers its metrics with reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid cross-test collisions.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		LookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kadcore",
			Subsystem: "lookup",
			Name:      "duration_seconds",
			Help:      "Time an iterative lookup took to resolve, by type and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "outcome"}),
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kadcore",
			Subsystem: "lookup",
			Name:      "total",
			Help:      "Iterative lookups completed, by type.",
		}, []string{"type"}),
		BucketSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kadcore",
			Subsystem: "routing_table",
			Name:      "bucket_size",
			Help:      "Current contact count of a bucket, by index.",
		}, []string{"bucket"}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kadcore",
			Subsystem: "routing_table",
			Name:      "evictions_total",
			Help:      "Contacts dropped from the routing table, by any cause.",
		}),
	}
	reg.MustRegister(c.LookupDuration, c.LookupsTotal, c.BucketSize, c.EvictionsTotal)
	return c
}

// ObserveLookup records one completed Lookup call's wall-clock duration.
func (c *Collector) ObserveLookup(lookupType, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.LookupsTotal.WithLabelValues(lookupType).Inc()
	c.LookupDuration.WithLabelValues(lookupType, outcome).Observe(seconds)
}

// SetBucketSize records a bucket's current occupancy.
func (c *Collector) SetBucketSize(index, size int) {
	if c == nil {
		return
	}
	c.BucketSize.WithLabelValues(strconv.Itoa(index)).Set(float64(size))
}

// IncEviction records one contact leaving the routing table.
func (c *Collector) IncEviction() {
	if c == nil {
		return
	}
	c.EvictionsTotal.Inc()
}
