package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/romarket/internal/cache"
	"github.com/rickgao/romarket/internal/history"
	"github.com/rickgao/romarket/internal/hub"
	"github.com/rickgao/romarket/internal/refresh"
)

const namespace = "romarket"

// Sources are the components read at scrape time. Nil fields are skipped.
type Sources struct {
	Caches  *cache.Set
	Hub     interface{ Stats() hub.Stats }
	Refresh interface {
		OutcomeCount(refresh.Kind, refresh.Outcome) uint64
	}
	History history.Store
}

// Collector implements prometheus.Collector over Sources.
type Collector struct {
	src Sources

	cacheHits     *prometheus.Desc
	cacheMisses   *prometheus.Desc
	cacheSets     *prometheus.Desc
	cacheSize     *prometheus.Desc
	connections   *prometheus.Desc
	subscriptions *prometheus.Desc
	messagesSent  *prometheus.Desc
	outcomes      *prometheus.Desc
	inserts       *prometheus.Desc
	writeErrors   *prometheus.Desc
}

// NewCollector creates a collector reading from src.
func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,
		cacheHits: prometheus.NewDesc(namespace+"_cache_hits_total",
			"Cache lookups that returned a live entry.", []string{"cache"}, nil),
		cacheMisses: prometheus.NewDesc(namespace+"_cache_misses_total",
			"Cache lookups that found no live entry.", []string{"cache"}, nil),
		cacheSets: prometheus.NewDesc(namespace+"_cache_sets_total",
			"Cache writes.", []string{"cache"}, nil),
		cacheSize: prometheus.NewDesc(namespace+"_cache_entries",
			"Entries currently held, including expired ones not yet swept.", []string{"cache"}, nil),
		connections: prometheus.NewDesc(namespace+"_stream_connections",
			"Registered streaming clients.", nil, nil),
		subscriptions: prometheus.NewDesc(namespace+"_stream_subscriptions",
			"Subscription keys with at least one subscriber.", nil, nil),
		messagesSent: prometheus.NewDesc(namespace+"_stream_messages_sent_total",
			"Broadcast messages delivered to clients.", nil, nil),
		outcomes: prometheus.NewDesc(namespace+"_refresh_outcomes_total",
			"Requests answered, by kind and outcome.", []string{"kind", "outcome"}, nil),
		inserts: prometheus.NewDesc(namespace+"_history_inserts_total",
			"Rows written to the history store.", nil, nil),
		writeErrors: prometheus.NewDesc(namespace+"_history_write_errors_total",
			"Failed history writes.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.cacheHits, c.cacheMisses, c.cacheSets, c.cacheSize,
		c.connections, c.subscriptions, c.messagesSent,
		c.outcomes, c.inserts, c.writeErrors,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Caches != nil {
		for name, s := range c.src.Caches.Stats() {
			ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.Hits), name)
			ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(s.Misses), name)
			ch <- prometheus.MustNewConstMetric(c.cacheSets, prometheus.CounterValue, float64(s.Sets), name)
			ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(s.Size), name)
		}
	}

	if c.src.Hub != nil {
		s := c.src.Hub.Stats()
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Connections))
		ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(s.Subscriptions))
		ch <- prometheus.MustNewConstMetric(c.messagesSent, prometheus.CounterValue, float64(s.MessagesSent))
	}

	if c.src.Refresh != nil {
		for _, kind := range []refresh.Kind{refresh.KindTop, refresh.KindSearch} {
			for _, outcome := range []refresh.Outcome{
				refresh.OutcomeFresh, refresh.OutcomeCached, refresh.OutcomeStale, refresh.OutcomeFailed,
			} {
				ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue,
					float64(c.src.Refresh.OutcomeCount(kind, outcome)), kind.String(), outcome.String())
			}
		}
	}

	if c.src.History != nil {
		w := c.src.History.WriteMetrics()
		ch <- prometheus.MustNewConstMetric(c.inserts, prometheus.CounterValue, float64(w.Inserts))
		ch <- prometheus.MustNewConstMetric(c.writeErrors, prometheus.CounterValue, float64(w.Errors))
	}
}

// NewRegistry returns a registry holding the collector plus the Go runtime and
// process collectors.
func NewRegistry(src Sources) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
