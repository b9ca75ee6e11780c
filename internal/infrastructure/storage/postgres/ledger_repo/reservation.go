package ledger_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/domain/reservation"
	"stockledger/internal/infrastructure/storage/postgres"
)

var (
	reservationColumns = []string{
		"id", "product_id", "demand_type", "demand_id",
		"requested_qty", "released_qty", "status",
		"created_at", "updated_at",
	}
	allocationColumns = []string{
		"reservation_id", "seq",
		"product_id", "warehouse_id", "location_id", "batch_id",
		"quantity", "released_qty",
	}
)

// ReservationRepo implements reservation.Repository.
type ReservationRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewReservationRepo creates a new reservation repository.
func NewReservationRepo(txm *postgres.TxManager) *ReservationRepo {
	return &ReservationRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *ReservationRepo) Create(ctx context.Context, res *entity.Reservation) error {
	tx, err := r.txm.RequireTx(ctx, "create reservation")
	if err != nil {
		return err
	}

	sql, args, err := r.builder.Insert(reservationsTable).
		Columns(reservationColumns[1:]...).
		Values(
			res.ProductID, res.DemandType, res.DemandID,
			res.RequestedQty, res.ReleasedQty, res.Status,
			res.CreatedAt, res.UpdatedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if err := tx.QueryRow(ctx, sql, args...).Scan(&res.ID); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	if len(res.Allocations) == 0 {
		return nil
	}

	q := r.builder.Insert(allocationsTable).Columns(allocationColumns...)
	for i := range res.Allocations {
		a := &res.Allocations[i]
		a.ReservationID = res.ID
		q = q.Values(a.ReservationID, a.Seq, a.ProductID, a.WarehouseID, a.LocationID, a.BatchID, a.Quantity, a.ReleasedQty)
	}
	sql, args, err = q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert allocations: %w", err)
	}
	return nil
}

func (r *ReservationRepo) LockByID(ctx context.Context, reservationID int64) (*entity.Reservation, error) {
	if _, err := r.txm.RequireTx(ctx, "lock reservation"); err != nil {
		return nil, err
	}
	return r.get(ctx, reservationID, true)
}

func (r *ReservationRepo) Get(ctx context.Context, reservationID int64) (*entity.Reservation, error) {
	return r.get(ctx, reservationID, false)
}

func (r *ReservationRepo) get(ctx context.Context, reservationID int64, lock bool) (*entity.Reservation, error) {
	q := r.builder.Select(reservationColumns...).From(reservationsTable).Where(squirrel.Eq{"id": reservationID})
	if lock {
		q = q.Suffix("FOR UPDATE")
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	var res entity.Reservation
	if err := pgxscan.Get(ctx, querier, &res, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewReservationNotFound(reservationID)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}

	if err := r.loadAllocations(ctx, querier, []*entity.Reservation{&res}); err != nil {
		return nil, err
	}
	return &res, nil
}

// loadAllocations fills Allocations of every reservation in one query.
func (r *ReservationRepo) loadAllocations(ctx context.Context, querier postgres.Querier, reservations []*entity.Reservation) error {
	if len(reservations) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(reservations))
	byID := make(map[int64]*entity.Reservation, len(reservations))
	for _, res := range reservations {
		ids = append(ids, res.ID)
		byID[res.ID] = res
		res.Allocations = []entity.ReservationAllocation{}
	}

	sql, args, err := r.builder.Select(allocationColumns...).
		From(allocationsTable).
		Where(squirrel.Eq{"reservation_id": ids}).
		OrderBy("reservation_id", "seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var allocations []entity.ReservationAllocation
	if err := pgxscan.Select(ctx, querier, &allocations, sql, args...); err != nil {
		return fmt.Errorf("select allocations: %w", err)
	}
	for _, a := range allocations {
		if res, ok := byID[a.ReservationID]; ok {
			res.Allocations = append(res.Allocations, a)
		}
	}
	return nil
}

func (r *ReservationRepo) Update(ctx context.Context, res *entity.Reservation) error {
	tx, err := r.txm.RequireTx(ctx, "update reservation")
	if err != nil {
		return err
	}

	sql, args, err := r.builder.Update(reservationsTable).
		Set("released_qty", res.ReleasedQty).
		Set("status", res.Status).
		Set("updated_at", res.UpdatedAt).
		Where(squirrel.Eq{"id": res.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return apperror.NewReservationNotFound(res.ID)
	}

	for _, a := range res.Allocations {
		sql, args, err := r.builder.Update(allocationsTable).
			Set("released_qty", a.ReleasedQty).
			Where(squirrel.Eq{"reservation_id": res.ID, "seq": a.Seq}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("update allocation: %w", err)
		}
	}
	return nil
}

func (r *ReservationRepo) ListByDemand(ctx context.Context, demand entity.DemandRef) ([]entity.Reservation, error) {
	sql, args, err := r.builder.Select(reservationColumns...).
		From(reservationsTable).
		Where(squirrel.Eq{"demand_type": demand.Type, "demand_id": demand.ID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	out := []entity.Reservation{}
	if err := pgxscan.Select(ctx, querier, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}

	ptrs := make([]*entity.Reservation, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := r.loadAllocations(ctx, querier, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

var _ reservation.Repository = (*ReservationRepo)(nil)
