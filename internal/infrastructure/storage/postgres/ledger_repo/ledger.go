// Package ledger_repo provides PostgreSQL implementations for the ledger and
// reservation repositories.
package ledger_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	ledgersTable      = "stock_location_ledgers"
	entriesTable      = "stock_transaction_entries"
	reservationsTable = "stock_reservations"
	allocationsTable  = "stock_reservation_allocations"
)

const sqlStateUniqueViolation = "23505"

var ledgerColumns = []string{
	"product_id", "warehouse_id", "location_id", "batch_id",
	"current_qty", "reserved_qty", "in_transit_qty", "in_production_qty",
	"average_cost", "min_stock_level", "max_stock_level",
	"batch_number", "expiry_date",
	"last_transaction_at", "created_at", "version",
}

// keyOrder is the lock acquisition order shared by every multi-row lock.
var keyOrder = []string{"product_id", "warehouse_id", "location_id", "batch_id"}

func keyEq(key entity.LedgerKey) squirrel.Eq {
	return squirrel.Eq{
		"product_id":   key.ProductID,
		"warehouse_id": key.WarehouseID,
		"location_id":  key.LocationID,
		"batch_id":     key.BatchID,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewLedgerRepo creates a new location ledger repository.
func NewLedgerRepo(txm *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *LedgerRepo) selectLedgers() squirrel.SelectBuilder {
	return r.builder.Select(ledgerColumns...).From(ledgersTable)
}

// insertIfAbsentQuery builds the lazy row creation. Concurrent creators race
// on the primary key; the loser does nothing and then blocks on the row lock.
func (r *LedgerRepo) insertIfAbsentQuery(key entity.LedgerKey, batch *entity.BatchInfo, now time.Time) squirrel.InsertBuilder {
	l := entity.NewLocationLedger(key, batch, now)
	return r.builder.Insert(ledgersTable).
		Columns(
			"product_id", "warehouse_id", "location_id", "batch_id",
			"batch_number", "expiry_date", "created_at",
		).
		Values(
			l.ProductID, l.WarehouseID, l.LocationID, l.BatchID,
			l.BatchNumber, l.ExpiryDate, l.CreatedAt,
		).
		Suffix("ON CONFLICT (product_id, warehouse_id, location_id, batch_id) DO NOTHING")
}

func (r *LedgerRepo) LockOrCreate(ctx context.Context, key entity.LedgerKey, batch *entity.BatchInfo, now time.Time) (*entity.LocationLedger, error) {
	tx, err := r.txm.RequireTx(ctx, "lock ledger")
	if err != nil {
		return nil, err
	}

	sql, args, err := r.insertIfAbsentQuery(key, batch, now).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}

	return r.lockOne(ctx, key)
}

func (r *LedgerRepo) LockExisting(ctx context.Context, key entity.LedgerKey) (*entity.LocationLedger, error) {
	if _, err := r.txm.RequireTx(ctx, "lock ledger"); err != nil {
		return nil, err
	}
	return r.lockOne(ctx, key)
}

func (r *LedgerRepo) lockOne(ctx context.Context, key entity.LedgerKey) (*entity.LocationLedger, error) {
	sql, args, err := r.selectLedgers().Where(keyEq(key)).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var l entity.LocationLedger
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &l, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("location ledger", key.String())
		}
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	return &l, nil
}

func (r *LedgerRepo) lockByProductQuery(productID id.ID, warehouseID *id.ID) squirrel.SelectBuilder {
	q := r.selectLedgers().Where(squirrel.Eq{"product_id": productID})
	if warehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *warehouseID})
	}
	return q.OrderBy(keyOrder...).Suffix("FOR UPDATE")
}

func (r *LedgerRepo) LockByProduct(ctx context.Context, productID id.ID, warehouseID *id.ID) ([]*entity.LocationLedger, error) {
	if _, err := r.txm.RequireTx(ctx, "lock ledgers"); err != nil {
		return nil, err
	}

	sql, args, err := r.lockByProductQuery(productID, warehouseID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var ledgers []*entity.LocationLedger
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &ledgers, sql, args...); err != nil {
		return nil, fmt.Errorf("lock ledgers: %w", err)
	}
	return ledgers, nil
}

func (r *LedgerRepo) saveQuery(l *entity.LocationLedger) squirrel.UpdateBuilder {
	return r.builder.Update(ledgersTable).
		Set("current_qty", l.CurrentQty).
		Set("reserved_qty", l.ReservedQty).
		Set("in_transit_qty", l.InTransitQty).
		Set("in_production_qty", l.InProductionQty).
		Set("average_cost", l.AverageCost).
		Set("min_stock_level", l.MinStockLevel).
		Set("max_stock_level", l.MaxStockLevel).
		Set("batch_number", l.BatchNumber).
		Set("expiry_date", l.ExpiryDate).
		Set("last_transaction_at", l.LastTransactionAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(keyEq(l.LedgerKey)).
		Where(squirrel.Eq{"version": l.Version})
}

// Save writes l back if nobody changed it since it was read, and bumps l.Version.
func (r *LedgerRepo) Save(ctx context.Context, l *entity.LocationLedger) error {
	tx, err := r.txm.RequireTx(ctx, "save ledger")
	if err != nil {
		return err
	}

	sql, args, err := r.saveQuery(l).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return apperror.NewConcurrentModification("location ledger", l.LedgerKey.String())
	}
	l.Version++
	return nil
}

func (r *LedgerRepo) Get(ctx context.Context, key entity.LedgerKey) (*entity.LocationLedger, error) {
	sql, args, err := r.selectLedgers().Where(keyEq(key)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var l entity.LocationLedger
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &l, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("location ledger", key.String())
		}
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	return &l, nil
}

func (r *LedgerRepo) ListByProduct(ctx context.Context, productID id.ID) ([]entity.LocationLedger, error) {
	return r.list(ctx, r.selectLedgers().
		Where(squirrel.Eq{"product_id": productID}).
		OrderBy(keyOrder...))
}

func (r *LedgerRepo) belowMinimumQuery(warehouseID *id.ID) squirrel.SelectBuilder {
	q := r.selectLedgers().
		Where(squirrel.NotEq{"min_stock_level": nil}).
		Where("current_qty < min_stock_level")
	if warehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *warehouseID})
	}
	return q.OrderBy(keyOrder...)
}

func (r *LedgerRepo) ListBelowMinimum(ctx context.Context, warehouseID *id.ID) ([]entity.LocationLedger, error) {
	return r.list(ctx, r.belowMinimumQuery(warehouseID))
}

func (r *LedgerRepo) list(ctx context.Context, q squirrel.SelectBuilder) ([]entity.LocationLedger, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	ledgers := []entity.LocationLedger{}
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &ledgers, sql, args...); err != nil {
		return nil, fmt.Errorf("select ledgers: %w", err)
	}
	return ledgers, nil
}

var _ ledger.Repository = (*LedgerRepo)(nil)
