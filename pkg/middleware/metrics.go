package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/vango-use/pkg/storage"
	"github.com/vango-dev/vango-use/pkg/storage/broadcast"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "").
	Namespace string

	// Subsystem is the metrics subsystem (default: "storage").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for operation duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Subsystem: "storage",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

type metrics struct {
	opsTotal    *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	valueBytes  *prometheus.HistogramVec
	eventsTotal *prometheus.CounterVec
}

// registered holds one metrics set per registry, so that wrapping several
// stores does not register the same collectors twice.
var (
	registeredMu sync.Mutex
	registered   = make(map[prometheus.Registerer]*metrics)
)

func metricsFor(config MetricsConfig) *metrics {
	registeredMu.Lock()
	defer registeredMu.Unlock()

	if m, ok := registered[config.Registry]; ok {
		return m
	}
	m := initMetrics(config)
	registered[config.Registry] = m
	return m
}

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		opsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "operations_total",
			Help:        "Total number of store operations by result",
			ConstLabels: config.ConstLabels,
		}, []string{"op", "kind", "result"}),

		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Store operation duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"op", "kind"}),

		valueBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "value_bytes",
			Help:        "Size of values written",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(16, 4, 8), // 16B to 256KB
		}, []string{"kind"}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "change_events_total",
			Help:        "Change events delivered to listeners, by origin",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "origin"}),
	}
}

// Prometheus creates middleware that counts and times store operations.
// Get misses are counted with result "miss". Change events are counted
// once per delivered listener, with origin "self" when the event came from
// a write through the wrapped store's own handle and "foreign" otherwise.
//
// Example:
//
//	store = middleware.Prometheus(middleware.WithNamespace("myapp"))(store)
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	m := metricsFor(config)

	return func(next storage.Store) storage.Store {
		kind := next.Kind().String()
		area := next.Area()

		return wrap(next, hooks{
			before: func(ctx context.Context, op, _ string) (context.Context, func(error, int)) {
				start := time.Now()
				return ctx, func(err error, extra int) {
					m.opDuration.WithLabelValues(op, kind).Observe(time.Since(start).Seconds())

					res := result(err)
					if op == "get" && extra < 0 {
						res = "miss"
					}
					m.opsTotal.WithLabelValues(op, kind, res).Inc()

					if op == "set" && err == nil {
						m.valueBytes.WithLabelValues(kind).Observe(float64(extra))
					}
				}
			},
			event: func(ev storage.ChangeEvent) {
				origin := "foreign"
				if ev.Area != "" && ev.Area == area {
					origin = "self"
				}
				m.eventsTotal.WithLabelValues(kind, origin).Inc()
			},
		})
	}
}

// HubCollector exports the counters of a broadcast hub.
//
//	prometheus.MustRegister(middleware.NewHubCollector(hub, "myapp"))
type HubCollector struct {
	hub *broadcast.Hub

	connections *prometheus.Desc
	scopes      *prometheus.Desc
	relayed     *prometheus.Desc
	dropped     *prometheus.Desc
}

// NewHubCollector creates a collector for hub under namespace.
func NewHubCollector(hub *broadcast.Hub, namespace string) *HubCollector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "sync_hub", n)
	}
	return &HubCollector{
		hub:         hub,
		connections: prometheus.NewDesc(name("connections"), "Open peer connections", nil, nil),
		scopes:      prometheus.NewDesc(name("scopes"), "Scopes with at least one peer", nil, nil),
		relayed:     prometheus.NewDesc(name("frames_relayed_total"), "Frames queued to peers", nil, nil),
		dropped:     prometheus.NewDesc(name("peers_dropped_total"), "Peers dropped for falling behind", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *HubCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.scopes
	ch <- c.relayed
	ch <- c.dropped
}

// Collect implements prometheus.Collector.
func (c *HubCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.hub.Stats()
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Connections))
	ch <- prometheus.MustNewConstMetric(c.scopes, prometheus.GaugeValue, float64(s.Scopes))
	ch <- prometheus.MustNewConstMetric(c.relayed, prometheus.CounterValue, float64(s.Relayed))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
}
