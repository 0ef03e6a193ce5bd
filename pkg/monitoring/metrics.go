package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector owns a service's Prometheus namespace. Every metric it
// creates is named <service>_<name>.
type MetricsCollector struct {
	namespace string
	factory   promauto.Factory
	gatherer  prometheus.Gatherer

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewMetricsCollector registers on the default Prometheus registry.
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(serviceName, version, commit, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsCollectorWithRegistry registers on reg and serves from gatherer.
func NewMetricsCollectorWithRegistry(serviceName, version, commit string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *MetricsCollector {
	mc := &MetricsCollector{
		namespace: strings.ReplaceAll(serviceName, "-", "_"),
		factory:   promauto.With(reg),
		gatherer:  gatherer,
	}

	mc.requests = mc.NewCounter("http_requests_total", "HTTP requests by route and status", []string{"method", "endpoint", "status"})
	mc.duration = mc.NewHistogram("http_request_duration_seconds", "HTTP request latency", []string{"method", "endpoint"}, nil)
	mc.inFlight = mc.factory.NewGauge(prometheus.GaugeOpts{
		Namespace: mc.namespace,
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served",
	})
	mc.factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: mc.namespace,
		Name:      "build_info",
		Help:      "Build metadata, always 1",
	}, []string{"version", "commit"}).WithLabelValues(version, commit).Set(1)

	return mc
}

// MetricsMiddleware records request counts and latency per matched route.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		mc.inFlight.Inc()
		start := time.Now()
		c.Next()
		mc.inFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		mc.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		mc.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the gatherer in the Prometheus text format.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(mc.gatherer, promhttp.HandlerOpts{}))
}

func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	return mc.factory.NewCounterVec(prometheus.CounterOpts{Namespace: mc.namespace, Name: name, Help: help}, labels)
}

// NewHistogram uses the Prometheus default buckets when buckets is nil.
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	return mc.factory.NewHistogramVec(prometheus.HistogramOpts{Namespace: mc.namespace, Name: name, Help: help, Buckets: buckets}, labels)
}
