package ledger_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/storage/postgres"
)

var entryColumns = []string{
	"id",
	"product_id", "warehouse_id", "location_id", "batch_id",
	"bucket", "quantity", "unit_cost", "balance_after",
	"source_document_type", "source_document_id",
	"operation_kind", "reverses_entry_id", "occurred_at",
}

// EntryRepo implements ledger.EntryRepository. The table is append-only.
type EntryRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewEntryRepo creates a new transaction log repository.
func NewEntryRepo(txm *postgres.TxManager) *EntryRepo {
	return &EntryRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *EntryRepo) appendQuery(e *entity.TransactionEntry) squirrel.InsertBuilder {
	return r.builder.Insert(entriesTable).
		Columns(entryColumns[1:]...).
		Values(
			e.ProductID, e.WarehouseID, e.LocationID, e.BatchID,
			e.Bucket, e.Quantity, e.UnitCost, e.BalanceAfter,
			e.SourceDocumentType, e.SourceDocumentID,
			e.OperationKind, e.ReversesEntryID, e.OccurredAt,
		).
		Suffix("RETURNING id")
}

func (r *EntryRepo) Append(ctx context.Context, e *entity.TransactionEntry) error {
	tx, err := r.txm.RequireTx(ctx, "append entry")
	if err != nil {
		return err
	}

	sql, args, err := r.appendQuery(e).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if err := tx.QueryRow(ctx, sql, args...).Scan(&e.ID); err != nil {
		if isUniqueViolation(err) && e.ReversesEntryID != nil {
			return apperror.NewConflict("entry is already reversed").WithDetail("entry_id", *e.ReversesEntryID)
		}
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

func (r *EntryRepo) Get(ctx context.Context, entryID int64) (*entity.TransactionEntry, error) {
	e, err := r.getOne(ctx, squirrel.Eq{"id": entryID})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperror.NewEntryNotFound(entryID)
	}
	return e, nil
}

func (r *EntryRepo) FindReversal(ctx context.Context, entryID int64) (*entity.TransactionEntry, error) {
	return r.getOne(ctx, squirrel.Eq{"reverses_entry_id": entryID})
}

func (r *EntryRepo) getOne(ctx context.Context, where squirrel.Eq) (*entity.TransactionEntry, error) {
	sql, args, err := r.builder.Select(entryColumns...).From(entriesTable).Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var e entity.TransactionEntry
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &e, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &e, nil
}

func (r *EntryRepo) listQuery(filter ledger.EntryFilter) squirrel.SelectBuilder {
	q := r.builder.Select(entryColumns...).From(entriesTable)

	if filter.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	if filter.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *filter.WarehouseID})
	}
	if filter.LocationID != nil {
		q = q.Where(squirrel.Eq{"location_id": *filter.LocationID})
	}
	if filter.BatchID != nil {
		q = q.Where(squirrel.Eq{"batch_id": *filter.BatchID})
	}
	if filter.SourceDocumentType != nil {
		q = q.Where(squirrel.Eq{"source_document_type": *filter.SourceDocumentType})
	}
	if filter.SourceDocumentID != "" {
		q = q.Where(squirrel.Eq{"source_document_id": filter.SourceDocumentID})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"occurred_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"occurred_at": *filter.ToDate})
	}

	q = q.OrderBy("occurred_at", "id")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q
}

func (r *EntryRepo) List(ctx context.Context, filter ledger.EntryFilter) ([]entity.TransactionEntry, error) {
	sql, args, err := r.listQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	entries := []entity.TransactionEntry{}
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	return entries, nil
}

var _ ledger.EntryRepository = (*EntryRepo)(nil)
