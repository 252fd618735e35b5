package cachekit

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sparkmeet/cachekit/ttlcache"
)

// Metrics holds the Prometheus instruments shared by all caches created
// through a registry. One Metrics value may back several registries as long
// as cache names stay unique.
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	swept     *prometheus.CounterVec
	size      *prometheus.GaugeVec
}

// NewMetrics creates and registers the cache instruments against reg. A nil
// registerer uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_hits_total",
			Help: "Number of cache lookups served from a fresh entry.",
		}, []string{"cache"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_misses_total",
			Help: "Number of cache lookups that found no usable entry.",
		}, []string{"cache"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_evictions_total",
			Help: "Number of entries removed to satisfy the capacity bound.",
		}, []string{"cache"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_swept_total",
			Help: "Number of expired entries removed by periodic sweeps.",
		}, []string{"cache"}),
		size: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cachekit_entries",
			Help: "Current entry count per cache, updated on each sweep.",
		}, []string{"cache"}),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions, m.swept, m.size)
	return m
}

// observer returns a ttlcache.Observer bound to the instruments for name.
func (m *Metrics) observer(name string) ttlcache.Observer {
	return &promObserver{
		hits:      m.hits.WithLabelValues(name),
		misses:    m.misses.WithLabelValues(name),
		evictions: m.evictions.WithLabelValues(name),
		swept:     m.swept.WithLabelValues(name),
	}
}

type promObserver struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	swept     prometheus.Counter
}

func (o *promObserver) Hit()          { o.hits.Inc() }
func (o *promObserver) Miss()         { o.misses.Inc() }
func (o *promObserver) Evicted(n int) { o.evictions.Add(float64(n)) }
func (o *promObserver) Swept(n int)   { o.swept.Add(float64(n)) }

// MetricsHandler returns an http.Handler that serves Prometheus metrics from
// the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
