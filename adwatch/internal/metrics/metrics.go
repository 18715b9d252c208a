// Package metrics exposes adwatch counters to Prometheus.
//
// Everything registers on the Registerer passed to New; nothing touches the
// global default registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline counters.
type Metrics struct {
	scans         *prometheus.CounterVec
	notifications *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	detailErrors  prometheus.Counter
	scanDuration  prometheus.Histogram
}

// New creates and registers the counters.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adwatch_scans_total",
			Help: "Search scans by outcome (ok, error).",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adwatch_notifications_total",
			Help: "Notification deliveries by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adwatch_cache_lookups_total",
			Help: "Response cache lookups by state (absent, fresh, stale).",
		}, []string{"state"}),
		detailErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adwatch_detail_fetch_errors_total",
			Help: "Listing detail pages that could not be fetched.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adwatch_scan_duration_seconds",
			Help:    "Duration of one search scan.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.scans, m.notifications, m.cacheLookups, m.detailErrors, m.scanDuration)
	return m
}

// Scan records one scan outcome and its duration.
func (m *Metrics) Scan(outcome string, seconds float64, detailErrors int) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(seconds)
	if detailErrors > 0 {
		m.detailErrors.Add(float64(detailErrors))
	}
}

// Notification records one delivery outcome.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// CacheLookup implements cache.Observer.
func (m *Metrics) CacheLookup(state string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(state).Inc()
}

// Counter is the store surface read at scrape time.
type Counter interface {
	CountSearches(ctx context.Context, ownerID string) (int, error)
	CountCacheEntries(ctx context.Context) (int, error)
}

var (
	searchesDesc = prometheus.NewDesc(
		"adwatch_searches",
		"Registered searches.",
		nil, nil,
	)
	cacheEntriesDesc = prometheus.NewDesc(
		"adwatch_cache_entries",
		"Rows in the response cache.",
		nil, nil,
	)
)

// StoreCollector reads table sizes from the database on each scrape.
type StoreCollector struct {
	store  Counter
	logger *slog.Logger
}

// NewStoreCollector creates a StoreCollector. Register it alongside New.
func NewStoreCollector(st Counter, logger *slog.Logger) *StoreCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreCollector{store: st, logger: logger}
}

// Describe sends the metric descriptors to the channel.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- searchesDesc
	ch <- cacheEntriesDesc
}

// Collect queries the store and emits gauges.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	if n, err := c.store.CountSearches(ctx, ""); err != nil {
		c.logger.Error("metrics: count searches", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(searchesDesc, prometheus.GaugeValue, float64(n))
	}
	if n, err := c.store.CountCacheEntries(ctx); err != nil {
		c.logger.Error("metrics: count cache entries", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(n))
	}
}
