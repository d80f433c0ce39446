// Package telemetry exposes Prometheus metrics for the forms service: HTTP
// server metrics, store operation counters, and connection pool gauges.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "forms"

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	MetricsEnabled *bool // nil = use default (true)
	// RuntimeMetrics registers the Go runtime and process collectors.
	RuntimeMetrics bool
}

func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "forms-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// TelemetryProvider owns a private registry so tests can build as many
// providers as they like.
type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	responseSize    prometheus.Histogram

	storeOps      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
}

func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{
		"service": cfg.ServiceName,
		"env":     cfg.Environment,
	}

	tp := &TelemetryProvider{
		cfg:      cfg,
		registry: reg,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "Duration of HTTP server requests.",
			Buckets:     defaultDurationBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "active_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		}),
		responseSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "response_size_bytes",
			Help:        "Size of HTTP responses.",
			Buckets:     prometheus.ExponentialBuckets(128, 4, 8),
			ConstLabels: constLabels,
		}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "operations_total",
			Help:        "Template and instance store operations by outcome.",
			ConstLabels: constLabels,
		}, []string{"entity", "operation", "outcome"}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "operation_duration_seconds",
			Help:        "Duration of store operations.",
			Buckets:     defaultDurationBuckets,
			ConstLabels: constLabels,
		}, []string{"entity", "operation"}),
	}

	reg.MustRegister(tp.requestDuration, tp.activeRequests, tp.responseSize, tp.storeOps, tp.storeDuration)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information; always 1.",
		ConstLabels: prometheus.Labels{
			"service": cfg.ServiceName,
			"version": cfg.ServiceVersion,
			"env":     cfg.Environment,
		},
	}, func() float64 { return 1 }))
	if cfg.RuntimeMetrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return tp
}

// Registry exposes the underlying registry, mainly for tests.
func (tp *TelemetryProvider) Registry() *prometheus.Registry { return tp.registry }

// ObserveStoreOp records one store operation. outcome is a short label such
// as "ok", "not_found" or "error".
func (tp *TelemetryProvider) ObserveStoreOp(entity, operation, outcome string, elapsed time.Duration) {
	if !tp.cfg.metricsOn() {
		return
	}
	tp.storeOps.WithLabelValues(entity, operation, outcome).Inc()
	tp.storeDuration.WithLabelValues(entity, operation).Observe(elapsed.Seconds())
}

// PoolStatsFunc reports acquired and idle connection counts.
type PoolStatsFunc func() (acquired, idle int32)

// RegisterPoolStats publishes connection pool gauges that are sampled at
// scrape time.
func (tp *TelemetryProvider) RegisterPoolStats(driver string, stats PoolStatsFunc) {
	labels := prometheus.Labels{"driver": driver}
	tp.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "db_pool",
			Name:        "acquired_connections",
			Help:        "Connections currently checked out of the pool.",
			ConstLabels: labels,
		}, func() float64 {
			a, _ := stats()
			return float64(a)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "db_pool",
			Name:        "idle_connections",
			Help:        "Idle connections in the pool.",
			ConstLabels: labels,
		}, func() float64 {
			_, i := stats()
			return float64(i)
		}),
	)
}

// MetricsMiddleware returns an Echo middleware that records HTTP server metrics.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.activeRequests.Inc()
			defer tp.activeRequests.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			// route pattern keeps label cardinality bounded
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			tp.requestDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			if size := c.Response().Size; size > 0 {
				tp.responseSize.Observe(float64(size))
			}
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{
		Registry: tp.registry,
	}))
}
