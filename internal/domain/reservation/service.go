package reservation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/ledger"
	"stockledger/pkg/logger"
)

var tracer = otel.Tracer("stockledger/reservation")

// Operation names reported to Metrics.
const (
	OpReserve = "reserve"
	OpRelease = "release"
	OpFulfill = "fulfill"
	OpCancel  = "cancel"
)

// ServiceConfig wires the reservation engine.
type ServiceConfig struct {
	Reservations Repository
	Ledgers      ledger.Repository
	Mover        Mover
	TxManager    tx.Manager

	// Optional.
	Policy  *EligibilityPolicy
	Events  ledger.EventPublisher
	Metrics ledger.Metrics
	Clock   func() time.Time
}

// Service implements Reserve, Release, Fulfill and Cancel. Reservation rows
// change only in the same transaction as the ledger rows they affect.
type Service struct {
	reservations Repository
	ledgers      ledger.Repository
	mover        Mover
	txm          tx.Manager
	policy       *EligibilityPolicy
	events       ledger.EventPublisher
	metrics      ledger.Metrics
	now          func() time.Time
}

// NewService creates a new reservation service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		reservations: cfg.Reservations,
		ledgers:      cfg.Ledgers,
		mover:        cfg.Mover,
		txm:          cfg.TxManager,
		policy:       cfg.Policy,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		now:          cfg.Clock,
	}
	if s.policy == nil {
		s.policy = MustEligibilityPolicy(DefaultEligibilityExpression)
	}
	if s.events == nil {
		s.events = ledger.NopPublisher()
	}
	if s.metrics == nil {
		s.metrics = ledger.NopMetrics()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// ReserveRequest asks to commit Qty of a product to a demand document.
type ReserveRequest struct {
	ProductID id.ID
	Demand    entity.DemandRef
	Qty       types.Quantity

	// Key targets one ledger. When nil the reservation is location-agnostic
	// and may span several ledgers, optionally within WarehouseID.
	Key         *entity.LedgerKey
	WarehouseID *id.ID
}

// Validate rejects malformed requests.
func (r *ReserveRequest) Validate() error {
	if id.IsNil(r.ProductID) {
		return apperror.NewValidation("product_id is required")
	}
	if r.Demand.Type == "" || r.Demand.ID == "" {
		return apperror.NewValidation("demand document type and id are required")
	}
	if err := validateQty(r.Qty); err != nil {
		return err
	}
	if r.Key != nil {
		if err := r.Key.Validate(); err != nil {
			return apperror.NewValidation(err.Error())
		}
		if r.Key.ProductID != r.ProductID {
			return apperror.NewValidation("ledger key belongs to another product")
		}
	}
	return nil
}

// Reserve creates a reservation in status Reserved and raises reservedQty on
// the ledgers it draws from. Either every ledger and the reservation are
// written, or nothing is.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (_ *entity.Reservation, err error) {
	ctx = logger.WithFields(ctx, "product_id", req.ProductID.String(), "demand", req.Demand.Type+":"+req.Demand.ID)
	ctx, span := tracer.Start(ctx, "reservation.Reserve", trace.WithAttributes(
		attribute.String("product.id", req.ProductID.String()),
		attribute.String("demand", req.Demand.Type+":"+req.Demand.ID),
	))
	defer func() { s.finish(ctx, span, OpReserve, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var res *entity.Reservation
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		candidates, err := s.lockCandidates(ctx, req)
		if err != nil {
			return err
		}

		allocations, err := allocate(req.ProductID, candidates, req.Qty)
		if err != nil {
			return err
		}

		now := s.now()
		res = entity.NewReservation(req.ProductID, req.Demand, req.Qty, now)
		res.Allocations = allocations

		for _, a := range allocations {
			l := findLedger(candidates, a.LedgerKey)
			l.ReservedQty = l.ReservedQty.Add(a.Quantity)
			if err := s.saveLedger(ctx, l); err != nil {
				return err
			}
		}

		if err := s.reservations.Create(ctx, res); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		return s.publish(ctx, entity.EventReservationCreated, res, req.Qty)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock reserved",
		"reservation_id", res.ID,
		"quantity", req.Qty.String(),
		"allocations", len(res.Allocations),
	)
	return res, nil
}

// lockCandidates locks the ledgers Reserve may draw from, in drawing order.
func (s *Service) lockCandidates(ctx context.Context, req ReserveRequest) ([]*entity.LocationLedger, error) {
	if req.Key != nil {
		l, err := s.ledgers.LockExisting(ctx, *req.Key)
		if apperror.IsNotFound(err) {
			return nil, insufficientAvailable(req.ProductID, req.Qty, types.Zero())
		}
		if err != nil {
			return nil, fmt.Errorf("lock ledger: %w", err)
		}
		return []*entity.LocationLedger{l}, nil
	}

	locked, err := s.ledgers.LockByProduct(ctx, req.ProductID, req.WarehouseID)
	if err != nil {
		return nil, fmt.Errorf("lock ledgers: %w", err)
	}

	now := s.now()
	candidates := make([]*entity.LocationLedger, 0, len(locked))
	for _, l := range locked {
		if !l.AvailableQty().IsPositive() {
			continue
		}
		ok, err := s.policy.Eligible(l, now)
		if err != nil {
			return nil, apperror.NewInternal(err)
		}
		if ok {
			candidates = append(candidates, l)
		}
	}
	SortByPriority(candidates)
	return candidates, nil
}

// allocate draws qty greedily from candidates in order.
func allocate(productID id.ID, candidates []*entity.LocationLedger, qty types.Quantity) ([]entity.ReservationAllocation, error) {
	remaining := qty
	total := types.Zero()
	var allocations []entity.ReservationAllocation

	for _, l := range candidates {
		available := l.AvailableQty()
		if !available.IsPositive() {
			continue
		}
		total = total.Add(available)
		if !remaining.IsPositive() {
			continue
		}
		take := types.MinQuantity(available, remaining)
		allocations = append(allocations, entity.ReservationAllocation{
			Seq:         len(allocations) + 1,
			LedgerKey:   l.LedgerKey,
			Quantity:    take,
			ReleasedQty: types.Zero(),
		})
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return nil, insufficientAvailable(productID, qty, total)
	}
	return allocations, nil
}

func insufficientAvailable(productID id.ID, requested, available types.Quantity) error {
	return apperror.NewInsufficientAvailableStock(productID.String(), requested.String(), available.String())
}

// Release gives back qty of an active reservation. Allocations are released
// in draw order. Pair it with a stock-decrementing movement, or use Fulfill.
func (s *Service) Release(ctx context.Context, reservationID int64, qty types.Quantity) (_ *entity.Reservation, err error) {
	ctx, span := s.startSpan(ctx, "reservation.Release", reservationID)
	defer func() { s.finish(ctx, span, OpRelease, err) }()

	if err := validateQty(qty); err != nil {
		return nil, err
	}

	var res *entity.Reservation
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, _, err = s.release(ctx, reservationID, qty)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "reservation released",
		"quantity", qty.String(),
		"status", res.Status,
	)
	return res, nil
}

// releasedPart is the quantity taken from one allocation by a release.
type releasedPart struct {
	key entity.LedgerKey
	qty types.Quantity
}

func (s *Service) release(ctx context.Context, reservationID int64, qty types.Quantity) (*entity.Reservation, []releasedPart, error) {
	res, err := s.reservations.LockByID(ctx, reservationID)
	if err != nil {
		return nil, nil, err
	}

	releasable := res.ReleasableQty()
	if qty.GreaterThan(releasable) {
		return nil, nil, apperror.NewOverRelease(reservationID, qty.String(), releasable.String()).
			WithDetail("status", string(res.Status))
	}

	ledgers, err := s.lockAllocationLedgers(ctx, res)
	if err != nil {
		return nil, nil, err
	}

	var parts []releasedPart
	remaining := qty
	for i := range res.Allocations {
		if !remaining.IsPositive() {
			break
		}
		a := &res.Allocations[i]
		take := types.MinQuantity(a.Outstanding(), remaining)
		if !take.IsPositive() {
			continue
		}
		a.ReleasedQty = a.ReleasedQty.Add(take)
		remaining = remaining.Sub(take)

		l := ledgers[a.LedgerKey]
		l.ReservedQty = l.ReservedQty.Sub(take)
		parts = append(parts, releasedPart{key: a.LedgerKey, qty: take})
	}
	if remaining.IsPositive() {
		return nil, nil, apperror.NewLedgerInconsistency("reservation allocations do not cover its remaining quantity").
			WithDetail("reservation_id", reservationID)
	}

	if err := s.saveLedgers(ctx, ledgers); err != nil {
		return nil, nil, err
	}

	res.ReleasedQty = res.ReleasedQty.Add(qty)
	res.RefreshStatus()
	res.UpdatedAt = s.now()
	if err := s.reservations.Update(ctx, res); err != nil {
		return nil, nil, fmt.Errorf("update reservation: %w", err)
	}
	if err := s.publish(ctx, entity.EventReservationReleased, res, qty); err != nil {
		return nil, nil, err
	}
	return res, parts, nil
}

// FulfillResult is a release together with the shipment entries it produced.
type FulfillResult struct {
	Reservation *entity.Reservation        `json:"reservation"`
	Entries     []*entity.TransactionEntry `json:"entries"`
}

// Fulfill releases qty and ships it from the same ledgers in one transaction.
func (s *Service) Fulfill(ctx context.Context, reservationID int64, qty types.Quantity, source entity.DocumentRef) (_ *FulfillResult, err error) {
	ctx, span := s.startSpan(ctx, "reservation.Fulfill", reservationID)
	defer func() { s.finish(ctx, span, OpFulfill, err) }()

	if err := validateQty(qty); err != nil {
		return nil, err
	}
	if source.Type == "" {
		source.Type = entity.DocShipment
	}
	if err := source.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	if s.mover == nil {
		return nil, apperror.NewInternal(fmt.Errorf("reservation service has no mover"))
	}

	var result FulfillResult
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		res, parts, err := s.release(ctx, reservationID, qty)
		if err != nil {
			return err
		}
		result.Reservation = res

		for _, p := range parts {
			entry, err := s.mover.PostMovement(ctx, ledger.MovementRequest{
				Key:       p.key,
				SignedQty: p.qty.Neg(),
				Source:    source,
				Kind:      entity.OperationInitial,
			})
			if err != nil {
				return err
			}
			result.Entries = append(result.Entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "reservation fulfilled",
		"quantity", qty.String(),
		"entries", len(result.Entries),
	)
	return &result, nil
}

// Cancel voids an active reservation, returning its outstanding quantity to
// available stock without touching currentQty. Cancelling a Released or
// Cancelled reservation is a no-op.
func (s *Service) Cancel(ctx context.Context, reservationID int64) (_ *entity.Reservation, err error) {
	ctx, span := s.startSpan(ctx, "reservation.Cancel", reservationID)
	defer func() { s.finish(ctx, span, OpCancel, err) }()

	var (
		res     *entity.Reservation
		changed bool
	)
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.reservations.LockByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if !res.IsActive() {
			return nil
		}

		ledgers, err := s.lockAllocationLedgers(ctx, res)
		if err != nil {
			return err
		}
		for i := range res.Allocations {
			a := &res.Allocations[i]
			l := ledgers[a.LedgerKey]
			l.ReservedQty = l.ReservedQty.Sub(a.Outstanding())
		}
		if err := s.saveLedgers(ctx, ledgers); err != nil {
			return err
		}

		remaining := res.RemainingQty()
		res.Status = entity.ReservationCancelled
		res.UpdatedAt = s.now()
		if err := s.reservations.Update(ctx, res); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		changed = true
		return s.publish(ctx, entity.EventReservationCanceled, res, remaining)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logger.Info(ctx, "reservation cancelled")
	}
	return res, nil
}

// Get returns a reservation with its allocations.
func (s *Service) Get(ctx context.Context, reservationID int64) (*entity.Reservation, error) {
	return s.reservations.Get(ctx, reservationID)
}

// ListByDemand returns the reservations of a demand document.
func (s *Service) ListByDemand(ctx context.Context, demand entity.DemandRef) ([]entity.Reservation, error) {
	if demand.Type == "" || demand.ID == "" {
		return nil, apperror.NewValidation("demand document type and id are required")
	}
	return s.reservations.ListByDemand(ctx, demand)
}

// lockAllocationLedgers locks the distinct ledgers of res in key order.
func (s *Service) lockAllocationLedgers(ctx context.Context, res *entity.Reservation) (map[entity.LedgerKey]*entity.LocationLedger, error) {
	keys := make([]entity.LedgerKey, 0, len(res.Allocations))
	for _, a := range res.Allocations {
		if !slices.Contains(keys, a.LedgerKey) {
			keys = append(keys, a.LedgerKey)
		}
	}
	slices.SortFunc(keys, entity.LedgerKey.Compare)

	ledgers := make(map[entity.LedgerKey]*entity.LocationLedger, len(keys))
	for _, k := range keys {
		l, err := s.ledgers.LockExisting(ctx, k)
		if err != nil {
			if apperror.IsNotFound(err) {
				return nil, apperror.NewLedgerInconsistency("reserved ledger is missing").
					WithDetail("reservation_id", res.ID).
					WithDetail("ledger", k.String())
			}
			return nil, fmt.Errorf("lock ledger: %w", err)
		}
		ledgers[k] = l
	}
	return ledgers, nil
}

// saveLedgers writes ledgers back in key order.
func (s *Service) saveLedgers(ctx context.Context, ledgers map[entity.LedgerKey]*entity.LocationLedger) error {
	keys := make([]entity.LedgerKey, 0, len(ledgers))
	for k := range ledgers {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, entity.LedgerKey.Compare)
	for _, k := range keys {
		if err := s.saveLedger(ctx, ledgers[k]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) saveLedger(ctx context.Context, l *entity.LocationLedger) error {
	if err := l.CheckInvariants(); err != nil {
		return apperror.NewLedgerInconsistency(err.Error()).WithDetail("ledger", l.LedgerKey.String())
	}
	if err := s.ledgers.Save(ctx, l); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, res *entity.Reservation, qty types.Quantity) error {
	err := s.events.Publish(ctx, entity.DomainEvent{
		AggregateType: entity.AggregateReservation,
		AggregateID:   fmt.Sprint(res.ID),
		EventType:     eventType,
		Payload: ReservationEvent{
			ReservationID: res.ID,
			ProductID:     res.ProductID,
			Demand:        res.Demand(),
			Quantity:      qty,
			RequestedQty:  res.RequestedQty,
			ReleasedQty:   res.ReleasedQty,
			Status:        res.Status,
			Allocations:   res.Allocations,
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func findLedger(ledgers []*entity.LocationLedger, key entity.LedgerKey) *entity.LocationLedger {
	for _, l := range ledgers {
		if l.LedgerKey == key {
			return l
		}
	}
	return nil
}

func validateQty(q types.Quantity) error {
	if !q.IsPositive() {
		return apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}
	if !q.Equal(q.Round(types.QuantityScale)) {
		return apperror.NewValidation(fmt.Sprintf("quantity has more than %d fractional digits", types.QuantityScale)).
			WithDetail("field", "quantity")
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string, reservationID int64) (context.Context, trace.Span) {
	ctx = logger.WithFields(ctx, "reservation_id", reservationID)
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.Int64("reservation.id", reservationID)))
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()
	s.metrics.Observe(op, err)
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, apperror.CodeOf(err))
	if apperror.IsLedgerInconsistency(err) {
		logger.Error(ctx, "ledger inconsistency, reservation operation aborted",
			"operation", op,
			"error", err,
		)
	}
}

// ReservationEvent is the payload of reservation.* events.
type ReservationEvent struct {
	ReservationID int64                          `json:"reservationId"`
	ProductID     id.ID                          `json:"productId"`
	Demand        entity.DemandRef               `json:"demand"`
	Quantity      types.Quantity                 `json:"quantity"`
	RequestedQty  types.Quantity                 `json:"requestedQty"`
	ReleasedQty   types.Quantity                 `json:"releasedQty"`
	Status        entity.ReservationStatus       `json:"status"`
	Allocations   []entity.ReservationAllocation `json:"allocations"`
}
