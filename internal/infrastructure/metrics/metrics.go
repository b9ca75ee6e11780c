// Package metrics exposes Prometheus collectors for ledger operations,
// HTTP traffic and the database pool.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockledger/internal/core/apperror"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/storage/postgres"
)

const namespace = "stockledger"

// OutcomeOK labels successful operations; failures are labelled by error code.
const OutcomeOK = "ok"

// Collector holds every metric of the service.
type Collector struct {
	operations      *prometheus.CounterVec
	inconsistencies *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	poolConns       *prometheus.GaugeVec
	outboxDelivered prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger and reservation operations by outcome",
		}, []string{"operation", "outcome"}),
		inconsistencies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_inconsistencies_total",
			Help:      "Operations aborted because a ledger invariant would break",
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		poolConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_connections",
			Help:      "Database pool connections by state",
		}, []string{"state"}),
		outboxDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_delivered_total",
			Help:      "Outbox messages delivered to the broker",
		}),
	}

	reg.MustRegister(
		c.operations,
		c.inconsistencies,
		c.httpRequests,
		c.httpLatency,
		c.poolConns,
		c.outboxDelivered,
	)
	return c
}

// Observe implements ledger.Metrics.
func (c *Collector) Observe(operation string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = strings.ToLower(apperror.CodeOf(err))
	}
	c.operations.WithLabelValues(operation, outcome).Inc()
	if apperror.IsLedgerInconsistency(err) {
		c.inconsistencies.WithLabelValues(operation).Inc()
	}
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObservePool copies a pool snapshot into gauges.
func (c *Collector) ObservePool(stats postgres.PoolStats) {
	c.poolConns.WithLabelValues("total").Set(float64(stats.TotalConns))
	c.poolConns.WithLabelValues("acquired").Set(float64(stats.AcquiredConns))
	c.poolConns.WithLabelValues("idle").Set(float64(stats.IdleConns))
	c.poolConns.WithLabelValues("max").Set(float64(stats.MaxConns))
}

// OutboxDelivered adds n delivered messages.
func (c *Collector) OutboxDelivered(n int) {
	c.outboxDelivered.Add(float64(n))
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

var _ ledger.Metrics = (*Collector)(nil)
