package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"stockledger/internal/core/apperror"
	"stockledger/internal/infrastructure/storage/postgres"
)

func TestCollector_Observe(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.Observe("apply_movement", nil)
	c.Observe("apply_movement", nil)
	c.Observe("apply_movement", apperror.NewInsufficientStock("p", "5", "2"))
	c.Observe("reverse_movement", apperror.NewLedgerInconsistency("current quantity -1 is negative"))
	c.Observe("reserve", errors.New("connection reset"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("apply_movement", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("apply_movement", "insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("reverse_movement", "ledger_inconsistency")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("reserve", "internal_error")))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.inconsistencies.WithLabelValues("reverse_movement")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inconsistencies.WithLabelValues("apply_movement")))
}

func TestCollector_HTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveHTTP("POST", "/api/v1/movements", 201, 15*time.Millisecond)
	c.ObserveHTTP("POST", "/api/v1/movements", 422, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/api/v1/movements", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/api/v1/movements", "4xx")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.httpLatency))
}

func TestCollector_PoolAndOutbox(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObservePool(postgres.PoolStats{TotalConns: 5, AcquiredConns: 2, IdleConns: 3, MaxConns: 25})
	c.OutboxDelivered(3)
	c.OutboxDelivered(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.poolConns.WithLabelValues("acquired")))
	assert.Equal(t, 25.0, testutil.ToFloat64(c.poolConns.WithLabelValues("max")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.outboxDelivered))
}
