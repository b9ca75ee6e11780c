package reservation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reservation"
	"stockledger/pkg/logger"
)

type recordingMetrics struct {
	mu  sync.Mutex
	ops []string
}

func (m *recordingMetrics) Observe(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, operation)
}

func (m *recordingMetrics) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.ops {
		if o == op {
			n++
		}
	}
	return n
}

// failOnCall delegates to next and fails the n-th movement.
type failOnCall struct {
	next  reservation.Mover
	n     int
	calls int
}

var errShipmentRejected = errors.New("shipment rejected")

func (m *failOnCall) PostMovement(ctx context.Context, req ledger.MovementRequest) (*entity.TransactionEntry, error) {
	m.calls++
	if m.calls == m.n {
		return nil, errShipmentRejected
	}
	return m.next.PostMovement(ctx, req)
}

func TestFulfill_RollbackReportsNoMovement(t *testing.T) {
	f := newFixture(t)
	a, b := f.batchKey(), f.batchKey()
	f.receive(t, a, "5", nil)
	f.receive(t, b, "5", nil)
	res, err := f.reserve("8", nil)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)

	ledgerMetrics := &recordingMetrics{}
	ledgerSvc := ledger.NewService(ledger.ServiceConfig{
		Ledgers:   f.store.Ledgers(),
		Entries:   f.store.Entries(),
		TxManager: f.store,
		Events:    f.store,
		Metrics:   ledgerMetrics,
		Clock:     func() time.Time { return testNow },
	})
	svc := reservation.NewService(reservation.ServiceConfig{
		Reservations: f.store.Reservations(),
		Ledgers:      f.store.Ledgers(),
		Mover:        &failOnCall{next: ledgerSvc, n: 2},
		TxManager:    f.store,
		Events:       f.store,
		Clock:        func() time.Time { return testNow },
	})

	core, logs := observer.New(zap.InfoLevel)
	ctx := logger.WithLogger(context.Background(), &logger.Logger{SugaredLogger: zap.New(core).Sugar()})
	events := len(f.store.Events())

	_, err = svc.Fulfill(ctx, res.ID, types.Qty(8), entity.DocumentRef{ID: "SHIP-1"})
	require.ErrorIs(t, err, errShipmentRejected)

	assert.Zero(t, ledgerMetrics.count(ledger.OpApplyMovement))
	assert.Zero(t, logs.FilterMessage("movement applied").Len())
	assert.Zero(t, logs.FilterMessage("reservation fulfilled").Len())

	for _, k := range []entity.LedgerKey{a, b} {
		l := f.ledgerAt(t, k)
		assertQty(t, "5", l.CurrentQty)
	}
	assertQty(t, "5", f.ledgerAt(t, res.Allocations[0].LedgerKey).ReservedQty)
	assertQty(t, "3", f.ledgerAt(t, res.Allocations[1].LedgerKey).ReservedQty)
	assert.Len(t, f.store.Events(), events)

	got, err := f.reservations.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationReserved, got.Status)
}

func TestApplyMovement_ReportsOnce(t *testing.T) {
	f := newFixture(t)
	ledgerMetrics := &recordingMetrics{}
	ledgerSvc := ledger.NewService(ledger.ServiceConfig{
		Ledgers:   f.store.Ledgers(),
		Entries:   f.store.Entries(),
		TxManager: f.store,
		Metrics:   ledgerMetrics,
	})

	_, err := ledgerSvc.ApplyMovement(context.Background(), ledger.MovementRequest{
		Key:       f.key(),
		SignedQty: types.Qty(3),
		Source:    entity.DocumentRef{Type: entity.DocGoodsReceipt, ID: "GR-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ledgerMetrics.count(ledger.OpApplyMovement))

	_, err = ledgerSvc.PostMovement(context.Background(), ledger.MovementRequest{
		Key:       f.key(),
		SignedQty: types.Qty(-1),
		Source:    entity.DocumentRef{Type: entity.DocShipment, ID: "SHIP-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ledgerMetrics.count(ledger.OpApplyMovement))
	assertQty(t, "2", f.ledgerAt(t, f.key()).CurrentQty)
}
