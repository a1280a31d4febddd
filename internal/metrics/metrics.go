package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nebulalend"

// Metrics holds the service collectors on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	priceTicks     *prometheus.CounterVec
	assessments    *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	walletConnects *prometheus.CounterVec
	requests       *prometheus.CounterVec
	durations      *prometheus.HistogramVec
}

// New builds a fresh set of collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		priceTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "quotes_total",
			Help:      "Total quotes published by the price source.",
		}, []string{"symbol"}),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "assessments_total",
			Help:      "Health assessments computed, by severity.",
		}, []string{"severity"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "submissions_total",
			Help:      "Position submissions, by outcome.",
		}, []string{"outcome"}),
		walletConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "connects_total",
			Help:      "Wallet connection attempts, by provider and result.",
		}, []string{"provider", "result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		m.priceTicks,
		m.assessments,
		m.submissions,
		m.walletConnects,
		m.requests,
		m.durations,
	)
	return m
}

// PriceTick counts a published quote
func (m *Metrics) PriceTick(symbol string) {
	m.priceTicks.WithLabelValues(symbol).Inc()
}

// Assessment counts a health assessment by severity
func (m *Metrics) Assessment(severity string) {
	m.assessments.WithLabelValues(severity).Inc()
}

// Submission counts a submission outcome (accepted, blocked, rejected)
func (m *Metrics) Submission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

// WalletConnect counts a connection attempt
func (m *Metrics) WalletConnect(provider, result string) {
	m.walletConnects.WithLabelValues(provider, result).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies per route
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.durations.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
