package memory

import (
	"context"
	"slices"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reservation"
)

var (
	_ ledger.Repository      = (*LedgerRepo)(nil)
	_ ledger.EntryRepository = (*EntryRepo)(nil)
	_ ledger.EventPublisher  = (*Store)(nil)
	_ reservation.Repository = (*ReservationRepo)(nil)
)

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	s *Store
}

func (r *LedgerRepo) LockOrCreate(ctx context.Context, key entity.LedgerKey, batch *entity.BatchInfo, now time.Time) (*entity.LocationLedger, error) {
	if err := r.s.requireTx(ctx, "lock ledger"); err != nil {
		return nil, err
	}
	if l, ok := r.s.ledgers[key]; ok {
		return &l, nil
	}
	l := entity.NewLocationLedger(key, batch, now)
	l.Version = 1
	r.s.ledgers[key] = *l
	return l, nil
}

func (r *LedgerRepo) LockExisting(ctx context.Context, key entity.LedgerKey) (*entity.LocationLedger, error) {
	if err := r.s.requireTx(ctx, "lock ledger"); err != nil {
		return nil, err
	}
	l, ok := r.s.ledgers[key]
	if !ok {
		return nil, apperror.NewNotFound("location ledger", key.String())
	}
	return &l, nil
}

func (r *LedgerRepo) LockByProduct(ctx context.Context, productID id.ID, warehouseID *id.ID) ([]*entity.LocationLedger, error) {
	if err := r.s.requireTx(ctx, "lock ledgers"); err != nil {
		return nil, err
	}
	var out []*entity.LocationLedger
	for _, l := range r.s.ledgers {
		if l.ProductID != productID || (warehouseID != nil && l.WarehouseID != *warehouseID) {
			continue
		}
		out = append(out, &l)
	}
	slices.SortFunc(out, func(a, b *entity.LocationLedger) int { return a.LedgerKey.Compare(b.LedgerKey) })
	return out, nil
}

// Save stores l if its version matches and bumps the version on both copies.
func (r *LedgerRepo) Save(ctx context.Context, l *entity.LocationLedger) error {
	if err := r.s.requireTx(ctx, "save ledger"); err != nil {
		return err
	}
	stored, ok := r.s.ledgers[l.LedgerKey]
	if !ok || stored.Version != l.Version {
		return apperror.NewConcurrentModification("location ledger", l.LedgerKey.String())
	}
	l.Version++
	r.s.ledgers[l.LedgerKey] = *l
	return nil
}

func (r *LedgerRepo) Get(ctx context.Context, key entity.LedgerKey) (*entity.LocationLedger, error) {
	var (
		l  entity.LocationLedger
		ok bool
	)
	r.s.read(ctx, func() { l, ok = r.s.ledgers[key] })
	if !ok {
		return nil, apperror.NewNotFound("location ledger", key.String())
	}
	return &l, nil
}

func (r *LedgerRepo) ListByProduct(ctx context.Context, productID id.ID) ([]entity.LocationLedger, error) {
	return r.list(ctx, func(l *entity.LocationLedger) bool { return l.ProductID == productID }), nil
}

func (r *LedgerRepo) ListBelowMinimum(ctx context.Context, warehouseID *id.ID) ([]entity.LocationLedger, error) {
	return r.list(ctx, func(l *entity.LocationLedger) bool {
		return l.BelowMinimum() && (warehouseID == nil || l.WarehouseID == *warehouseID)
	}), nil
}

func (r *LedgerRepo) list(ctx context.Context, match func(*entity.LocationLedger) bool) []entity.LocationLedger {
	out := []entity.LocationLedger{}
	r.s.read(ctx, func() {
		for _, l := range r.s.ledgers {
			if match(&l) {
				out = append(out, l)
			}
		}
	})
	slices.SortFunc(out, func(a, b entity.LocationLedger) int { return a.LedgerKey.Compare(b.LedgerKey) })
	return out
}

// EntryRepo implements ledger.EntryRepository.
type EntryRepo struct {
	s *Store
}

func (r *EntryRepo) Append(ctx context.Context, e *entity.TransactionEntry) error {
	if err := r.s.requireTx(ctx, "append entry"); err != nil {
		return err
	}
	if e.ReversesEntryID != nil {
		if _, dup := r.s.reversals[*e.ReversesEntryID]; dup {
			return apperror.NewConflict("entry is already reversed").WithDetail("entry_id", *e.ReversesEntryID)
		}
	}
	e.ID = int64(len(r.s.entries) + 1)
	r.s.entries = append(r.s.entries, *e)
	if e.ReversesEntryID != nil {
		r.s.reversals[*e.ReversesEntryID] = e.ID
	}
	return nil
}

func (r *EntryRepo) Get(ctx context.Context, entryID int64) (*entity.TransactionEntry, error) {
	var (
		e  entity.TransactionEntry
		ok bool
	)
	r.s.read(ctx, func() {
		if entryID >= 1 && entryID <= int64(len(r.s.entries)) {
			e, ok = r.s.entries[entryID-1], true
		}
	})
	if !ok {
		return nil, apperror.NewEntryNotFound(entryID)
	}
	return &e, nil
}

func (r *EntryRepo) FindReversal(ctx context.Context, entryID int64) (*entity.TransactionEntry, error) {
	var (
		e  entity.TransactionEntry
		ok bool
	)
	r.s.read(ctx, func() {
		if revID, found := r.s.reversals[entryID]; found {
			e, ok = r.s.entries[revID-1], true
		}
	})
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *EntryRepo) List(ctx context.Context, f ledger.EntryFilter) ([]entity.TransactionEntry, error) {
	out := []entity.TransactionEntry{}
	r.s.read(ctx, func() {
		for _, e := range r.s.entries {
			if matchEntry(&e, f) {
				out = append(out, e)
			}
		}
	})
	slices.SortStableFunc(out, func(a, b entity.TransactionEntry) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})

	if f.Offset >= len(out) {
		return []entity.TransactionEntry{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchEntry(e *entity.TransactionEntry, f ledger.EntryFilter) bool {
	switch {
	case f.ProductID != nil && e.ProductID != *f.ProductID,
		f.WarehouseID != nil && e.WarehouseID != *f.WarehouseID,
		f.LocationID != nil && e.LocationID != *f.LocationID,
		f.BatchID != nil && e.BatchID != *f.BatchID,
		f.SourceDocumentType != nil && e.SourceDocumentType != *f.SourceDocumentType,
		f.SourceDocumentID != "" && e.SourceDocumentID != f.SourceDocumentID,
		f.FromDate != nil && e.OccurredAt.Before(*f.FromDate),
		f.ToDate != nil && !e.OccurredAt.Before(*f.ToDate):
		return false
	}
	return true
}

// ReservationRepo implements reservation.Repository.
type ReservationRepo struct {
	s *Store
}

func (r *ReservationRepo) Create(ctx context.Context, res *entity.Reservation) error {
	if err := r.s.requireTx(ctx, "create reservation"); err != nil {
		return err
	}
	r.s.nextResID++
	res.ID = r.s.nextResID
	for i := range res.Allocations {
		res.Allocations[i].ReservationID = res.ID
	}
	r.s.reservations[res.ID] = cloneReservation(*res)
	return nil
}

func (r *ReservationRepo) LockByID(ctx context.Context, reservationID int64) (*entity.Reservation, error) {
	if err := r.s.requireTx(ctx, "lock reservation"); err != nil {
		return nil, err
	}
	return r.Get(ctx, reservationID)
}

func (r *ReservationRepo) Get(ctx context.Context, reservationID int64) (*entity.Reservation, error) {
	var (
		res entity.Reservation
		ok  bool
	)
	r.s.read(ctx, func() {
		res, ok = r.s.reservations[reservationID]
		if ok {
			res = cloneReservation(res)
		}
	})
	if !ok {
		return nil, apperror.NewReservationNotFound(reservationID)
	}
	return &res, nil
}

func (r *ReservationRepo) Update(ctx context.Context, res *entity.Reservation) error {
	if err := r.s.requireTx(ctx, "update reservation"); err != nil {
		return err
	}
	if _, ok := r.s.reservations[res.ID]; !ok {
		return apperror.NewReservationNotFound(res.ID)
	}
	r.s.reservations[res.ID] = cloneReservation(*res)
	return nil
}

func (r *ReservationRepo) ListByDemand(ctx context.Context, demand entity.DemandRef) ([]entity.Reservation, error) {
	out := []entity.Reservation{}
	r.s.read(ctx, func() {
		for _, res := range r.s.reservations {
			if res.DemandType == demand.Type && res.DemandID == demand.ID {
				out = append(out, cloneReservation(res))
			}
		}
	})
	slices.SortFunc(out, func(a, b entity.Reservation) int { return int(a.ID - b.ID) })
	return out, nil
}
