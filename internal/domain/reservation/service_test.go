package reservation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reservation"
	"stockledger/internal/infrastructure/storage/memory"
)

var testNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store        *memory.Store
	ledger       *ledger.Service
	reservations *reservation.Service
	productID    id.ID
	warehouseID  id.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clock := func() time.Time { return testNow }
	ledgerSvc := ledger.NewService(ledger.ServiceConfig{
		Ledgers:   store.Ledgers(),
		Entries:   store.Entries(),
		TxManager: store,
		Events:    store,
		Clock:     clock,
	})
	return &fixture{
		store:  store,
		ledger: ledgerSvc,
		reservations: reservation.NewService(reservation.ServiceConfig{
			Reservations: store.Reservations(),
			Ledgers:      store.Ledgers(),
			Mover:        ledgerSvc,
			TxManager:    store,
			Events:       store,
			Clock:        clock,
		}),
		productID:   id.New(),
		warehouseID: id.New(),
	}
}

func (f *fixture) key() entity.LedgerKey {
	return entity.LedgerKey{ProductID: f.productID, WarehouseID: f.warehouseID}
}

// batchKey returns a key for a distinct location and batch of the fixture product.
func (f *fixture) batchKey() entity.LedgerKey {
	k := f.key()
	k.LocationID = id.New()
	k.BatchID = id.New()
	return k
}

func (f *fixture) receive(t *testing.T, key entity.LedgerKey, qty string, expiry *time.Time) {
	t.Helper()
	req := ledger.MovementRequest{
		Key:       key,
		SignedQty: types.MustQuantity(qty),
		UnitCost:  types.MoneyPtr(types.MustMoney("10")),
		Source:    entity.DocumentRef{Type: entity.DocGoodsReceipt, ID: "GR"},
	}
	if expiry != nil {
		req.Batch = &entity.BatchInfo{Number: "B-" + expiry.Format("0102"), ExpiryDate: expiry}
	}
	_, err := f.ledger.ApplyMovement(context.Background(), req)
	require.NoError(t, err)
}

func (f *fixture) reserve(qty string, key *entity.LedgerKey) (*entity.Reservation, error) {
	return f.reservations.Reserve(context.Background(), reservation.ReserveRequest{
		ProductID: f.productID,
		Demand:    entity.DemandRef{Type: "sales_order_line", ID: "SO-1"},
		Qty:       types.MustQuantity(qty),
		Key:       key,
	})
}

func (f *fixture) ledgerAt(t *testing.T, key entity.LedgerKey) *entity.LocationLedger {
	t.Helper()
	l, err := f.ledger.GetLedger(context.Background(), key)
	require.NoError(t, err)
	return l
}

func assertQty(t *testing.T, want string, got types.Quantity) {
	t.Helper()
	assert.Truef(t, types.MustQuantity(want).Equal(got), "want %s, got %s", want, got)
}

func date(month time.Month, day int) *time.Time {
	d := time.Date(2026, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestScenario_ReceiveReserveShip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reserve("5", nil)
	require.True(t, apperror.IsInsufficientAvailableStock(err))

	_, err = f.ledger.ApplyMovement(ctx, ledger.MovementRequest{
		Key:       f.key(),
		SignedQty: types.Qty(20),
		UnitCost:  types.MoneyPtr(types.MustMoney("10")),
		Source:    entity.DocumentRef{Type: entity.DocGoodsReceipt, ID: "GR-1"},
	})
	require.NoError(t, err)
	l := f.ledgerAt(t, f.key())
	assertQty(t, "20", l.CurrentQty)
	assertQty(t, "10", *l.AverageCost)

	res, err := f.reserve("5", nil)
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationReserved, res.Status)
	l = f.ledgerAt(t, f.key())
	assertQty(t, "5", l.ReservedQty)
	assertQty(t, "15", l.AvailableQty())

	res, err = f.reservations.Release(ctx, res.ID, types.Qty(5))
	require.NoError(t, err)
	_, err = f.ledger.ApplyMovement(ctx, ledger.MovementRequest{
		Key:       f.key(),
		SignedQty: types.Qty(-5),
		Source:    entity.DocumentRef{Type: entity.DocShipment, ID: "SHIP-1"},
	})
	require.NoError(t, err)

	l = f.ledgerAt(t, f.key())
	assertQty(t, "15", l.CurrentQty)
	assertQty(t, "0", l.ReservedQty)
	assert.Equal(t, entity.ReservationReleased, res.Status)
}

func TestReserve_TargetedLedger(t *testing.T) {
	f := newFixture(t)
	key := f.key()
	f.receive(t, key, "8", nil)

	res, err := f.reserve("3", &key)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, key, res.Allocations[0].LedgerKey)

	_, err = f.reserve("6", &key)
	require.True(t, apperror.IsInsufficientAvailableStock(err))
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, "5", appErr.Details["available"])

	other := f.batchKey()
	_, err = f.reserve("1", &other)
	assert.True(t, apperror.IsInsufficientAvailableStock(err))
}

func TestReserve_DrawsNearestExpiryFirst(t *testing.T) {
	f := newFixture(t)
	later, sooner, none := f.batchKey(), f.batchKey(), f.batchKey()
	f.receive(t, later, "5", date(time.December, 1))
	f.receive(t, sooner, "5", date(time.November, 1))
	f.receive(t, none, "5", nil)

	res, err := f.reserve("8", nil)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)

	assert.Equal(t, sooner, res.Allocations[0].LedgerKey)
	assertQty(t, "5", res.Allocations[0].Quantity)
	assert.Equal(t, later, res.Allocations[1].LedgerKey)
	assertQty(t, "3", res.Allocations[1].Quantity)

	assertQty(t, "0", f.ledgerAt(t, none).ReservedQty)

	// Same inputs, same draw.
	res2, err := f.reserve("2", nil)
	require.NoError(t, err)
	require.Len(t, res2.Allocations, 1)
	assert.Equal(t, later, res2.Allocations[0].LedgerKey)
}

func TestReserve_SkipsExpiredBatches(t *testing.T) {
	f := newFixture(t)
	expired := f.batchKey()
	f.receive(t, expired, "10", date(time.September, 1))

	_, err := f.reserve("1", nil)
	require.True(t, apperror.IsInsufficientAvailableStock(err))

	fresh := f.batchKey()
	f.receive(t, fresh, "2", date(time.November, 1))

	res, err := f.reserve("2", nil)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, fresh, res.Allocations[0].LedgerKey)
}

func (f *fixture) transferAll(t *testing.T, from entity.LedgerKey, qty string) entity.LedgerKey {
	t.Helper()
	to := from
	to.LocationID = id.New()
	_, err := f.ledger.Transfer(context.Background(), ledger.TransferRequest{
		From:   from,
		To:     to,
		Qty:    types.MustQuantity(qty),
		Source: entity.DocumentRef{ID: "TR-1"},
	})
	require.NoError(t, err)
	return to
}

func TestReserve_TransferredBatchKeepsExpiry(t *testing.T) {
	f := newFixture(t)
	src, none := f.batchKey(), f.batchKey()
	f.receive(t, none, "5", nil)
	f.receive(t, src, "5", date(time.November, 1))

	dest := f.transferAll(t, src, "5")

	l := f.ledgerAt(t, dest)
	require.NotNil(t, l.ExpiryDate)
	assert.Equal(t, *date(time.November, 1), *l.ExpiryDate)
	require.NotNil(t, l.BatchNumber)
	assert.Equal(t, "B-1101", *l.BatchNumber)

	res, err := f.reserve("4", nil)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, dest, res.Allocations[0].LedgerKey)
	assertQty(t, "0", f.ledgerAt(t, none).ReservedQty)
}

func TestReserve_TransferredExpiredBatchIsSkipped(t *testing.T) {
	f := newFixture(t)
	src := f.batchKey()
	f.receive(t, src, "5", date(time.September, 1))

	f.transferAll(t, src, "5")

	_, err := f.reserve("1", nil)
	assert.True(t, apperror.IsInsufficientAvailableStock(err))
}

func TestReserve_FailureLeavesLedgersUntouched(t *testing.T) {
	f := newFixture(t)
	a, b := f.batchKey(), f.batchKey()
	f.receive(t, a, "4", nil)
	f.receive(t, b, "6", nil)
	events := len(f.store.Events())

	_, err := f.reserve("11", nil)
	require.True(t, apperror.IsInsufficientAvailableStock(err))
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, "10", appErr.Details["available"])

	assertQty(t, "0", f.ledgerAt(t, a).ReservedQty)
	assertQty(t, "0", f.ledgerAt(t, b).ReservedQty)
	list, err := f.reservations.ListByDemand(context.Background(), entity.DemandRef{Type: "sales_order_line", ID: "SO-1"})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Len(t, f.store.Events(), events)
}

func TestReserve_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.reserve("0", nil)
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
	_, err = f.reserve("-2", nil)
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
}

func TestShipmentCannotConsumeReservedStock(t *testing.T) {
	f := newFixture(t)
	key := f.key()
	f.receive(t, key, "10", nil)
	_, err := f.reserve("8", &key)
	require.NoError(t, err)

	_, err = f.ledger.ApplyMovement(context.Background(), ledger.MovementRequest{
		Key:       key,
		SignedQty: types.Qty(-3),
		Source:    entity.DocumentRef{Type: entity.DocShipment, ID: "SHIP-X"},
	})
	require.True(t, apperror.IsInsufficientStock(err))

	l := f.ledgerAt(t, key)
	assertQty(t, "10", l.CurrentQty)
	assertQty(t, "8", l.ReservedQty)
}

func TestRelease_Partial_ThenOverRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.key(), "10", nil)
	res, err := f.reserve("6", nil)
	require.NoError(t, err)

	res, err = f.reservations.Release(ctx, res.ID, types.Qty(2))
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationPartiallyReleased, res.Status)
	assertQty(t, "2", res.ReleasedQty)
	assertQty(t, "4", f.ledgerAt(t, f.key()).ReservedQty)

	_, err = f.reservations.Release(ctx, res.ID, types.Qty(5))
	require.True(t, apperror.IsOverRelease(err))
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, "4", appErr.Details["remaining"])

	res, err = f.reservations.Release(ctx, res.ID, types.Qty(4))
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationReleased, res.Status)
	assertQty(t, "0", f.ledgerAt(t, f.key()).ReservedQty)
	assertQty(t, "10", f.ledgerAt(t, f.key()).CurrentQty)
}

func TestRelease_FollowsDrawOrder(t *testing.T) {
	f := newFixture(t)
	first, second := f.batchKey(), f.batchKey()
	f.receive(t, first, "3", date(time.November, 1))
	f.receive(t, second, "3", date(time.November, 2))

	res, err := f.reserve("5", nil)
	require.NoError(t, err)

	res, err = f.reservations.Release(context.Background(), res.ID, types.Qty(4))
	require.NoError(t, err)

	assertQty(t, "3", res.Allocations[0].ReleasedQty)
	assertQty(t, "1", res.Allocations[1].ReleasedQty)
	assertQty(t, "0", f.ledgerAt(t, first).ReservedQty)
	assertQty(t, "1", f.ledgerAt(t, second).ReservedQty)
}

func TestRelease_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.reservations.Release(context.Background(), 99, types.Qty(1))
	assert.True(t, apperror.HasCode(err, apperror.CodeReservationNotFound))

	_, err = f.reservations.Cancel(context.Background(), 99)
	assert.True(t, apperror.HasCode(err, apperror.CodeReservationNotFound))
}

func TestCancel_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.key(), "10", nil)
	res, err := f.reserve("6", nil)
	require.NoError(t, err)
	_, err = f.reservations.Release(ctx, res.ID, types.Qty(1))
	require.NoError(t, err)

	once, err := f.reservations.Cancel(ctx, res.ID)
	require.NoError(t, err)
	afterOnce := *f.ledgerAt(t, f.key())
	events := len(f.store.Events())

	twice, err := f.reservations.Cancel(ctx, res.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.ReservationCancelled, once.Status)
	assert.Equal(t, once.Status, twice.Status)
	assertQty(t, once.ReleasedQty.String(), twice.ReleasedQty)
	assert.Equal(t, afterOnce, *f.ledgerAt(t, f.key()))
	assert.Len(t, f.store.Events(), events)

	assertQty(t, "0", afterOnce.ReservedQty)
	assertQty(t, "10", afterOnce.CurrentQty)

	_, err = f.reservations.Release(ctx, res.ID, types.Qty(1))
	assert.True(t, apperror.IsOverRelease(err))
}

func TestCancel_ReleasedIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.key(), "10", nil)
	res, err := f.reserve("2", nil)
	require.NoError(t, err)
	_, err = f.reservations.Release(ctx, res.ID, types.Qty(2))
	require.NoError(t, err)

	res, err = f.reservations.Cancel(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationReleased, res.Status)
}

func TestFulfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.key(), "20", nil)
	res, err := f.reserve("5", nil)
	require.NoError(t, err)

	out, err := f.reservations.Fulfill(ctx, res.ID, types.Qty(3), entity.DocumentRef{ID: "SHIP-1"})
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	assertQty(t, "-3", out.Entries[0].Quantity)
	assert.Equal(t, entity.DocShipment, out.Entries[0].SourceDocumentType)
	assert.Equal(t, entity.ReservationPartiallyReleased, out.Reservation.Status)

	l := f.ledgerAt(t, f.key())
	assertQty(t, "17", l.CurrentQty)
	assertQty(t, "2", l.ReservedQty)

	_, err = f.reservations.Fulfill(ctx, res.ID, types.Qty(3), entity.DocumentRef{ID: "SHIP-2"})
	require.True(t, apperror.IsOverRelease(err))
	assertQty(t, "17", f.ledgerAt(t, f.key()).CurrentQty)
}

func TestReservationInvariantAcrossOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.batchKey(), f.batchKey()
	f.receive(t, a, "5", nil)
	f.receive(t, b, "5", nil)

	r1, err := f.reserve("7", nil)
	require.NoError(t, err)
	r2, err := f.reserve("3", nil)
	require.NoError(t, err)
	_, err = f.reservations.Fulfill(ctx, r1.ID, types.Qty(6), entity.DocumentRef{ID: "SHIP-1"})
	require.NoError(t, err)
	_, err = f.reservations.Cancel(ctx, r2.ID)
	require.NoError(t, err)

	for _, k := range []entity.LedgerKey{a, b} {
		l := f.ledgerAt(t, k)
		assert.NoError(t, l.CheckInvariants())
	}

	agg, err := f.ledger.GetAggregate(ctx, f.productID)
	require.NoError(t, err)
	assertQty(t, "4", agg.TotalCurrent)
	assertQty(t, "1", agg.TotalReserved)
	assertQty(t, "3", agg.TotalAvailable)
}

func TestReserve_PublishesEvent(t *testing.T) {
	f := newFixture(t)
	f.receive(t, f.key(), "5", nil)

	res, err := f.reserve("5", nil)
	require.NoError(t, err)

	events := f.store.Events()
	last := events[len(events)-1]
	assert.Equal(t, entity.EventReservationCreated, last.EventType)
	assert.Equal(t, entity.AggregateReservation, last.AggregateType)
	payload, ok := last.Payload.(reservation.ReservationEvent)
	require.True(t, ok)
	assert.Equal(t, res.ID, payload.ReservationID)
}
