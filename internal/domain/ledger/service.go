package ledger

import (
	"context"
	"fmt"
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
	"stockledger/pkg/logger"
)

var tracer = otel.Tracer("stockledger/ledger")

// Operation names reported to Metrics.
const (
	OpApplyMovement   = "apply_movement"
	OpReverseMovement = "reverse_movement"
	OpTransfer        = "transfer"
	OpAdjustInFlight  = "adjust_in_flight"
	OpSetThresholds   = "set_thresholds"
)

// ServiceConfig wires the ledger service.
type ServiceConfig struct {
	Ledgers   Repository
	Entries   EntryRepository
	TxManager tx.Manager

	// Optional.
	Events  EventPublisher
	Metrics Metrics
	Clock   func() time.Time
}

// Service owns every mutation of location ledgers and the transaction log.
// Each mutation runs in one transaction holding row locks on the affected
// ledgers; invariants are checked against the freshly locked rows.
type Service struct {
	ledgers Repository
	entries EntryRepository
	txm     tx.Manager
	events  EventPublisher
	metrics Metrics
	now     func() time.Time
}

// NewService creates a new ledger service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		ledgers: cfg.Ledgers,
		entries: cfg.Entries,
		txm:     cfg.TxManager,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		now:     cfg.Clock,
	}
	if s.events == nil {
		s.events = NopPublisher()
	}
	if s.metrics == nil {
		s.metrics = NopMetrics()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// ApplyMovement changes the on-hand quantity of one ledger and appends the entry.
// Decreases may only consume available (unreserved) stock; otherwise the call
// fails with InsufficientStock and nothing is written.
func (s *Service) ApplyMovement(ctx context.Context, req MovementRequest) (_ *entity.TransactionEntry, err error) {
	ctx, span := s.startSpan(ctx, "ledger.ApplyMovement", req.Key)
	defer func() { s.finish(ctx, span, OpApplyMovement, err) }()

	entry, err := s.PostMovement(ctx, req)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "movement applied",
		"entry_id", entry.ID,
		"quantity", entry.Quantity.String(),
		"balance_after", entry.BalanceAfter.String(),
		"source", string(req.Source.Type)+":"+req.Source.ID,
	)
	return entry, nil
}

// PostMovement does the work of ApplyMovement without reporting it: no span
// outcome, metric or log line. It joins the caller's transaction, so a caller
// composing several movements reports once, after its own commit.
func (s *Service) PostMovement(ctx context.Context, req MovementRequest) (*entity.TransactionEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var entry *entity.TransactionEntry
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		l, err := s.ledgers.LockOrCreate(ctx, req.Key, req.Batch, s.now())
		if err != nil {
			return fmt.Errorf("lock ledger: %w", err)
		}

		if req.SignedQty.IsNegative() {
			after := l.CurrentQty.Add(req.SignedQty)
			if after.LessThan(l.ReservedQty) {
				return apperror.NewInsufficientStock(
					req.Key.ProductID.String(),
					req.SignedQty.Neg().String(),
					l.AvailableQty().String(),
				).WithDetail("ledger", req.Key.String())
			}
		}

		entry, err = s.post(ctx, l, posting{
			bucket:     entity.BucketOnHand,
			qty:        req.SignedQty,
			unitCost:   req.UnitCost,
			source:     req.Source,
			kind:       req.Kind,
			occurredAt: req.OccurredAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ReverseMovement appends a reversal of entryID carrying the negated delta.
// A reversal that would break a ledger invariant is a LedgerInconsistency and
// is never clamped.
func (s *Service) ReverseMovement(ctx context.Context, entryID int64, source entity.DocumentRef) (_ *entity.TransactionEntry, err error) {
	ctx = logger.WithFields(ctx, "reversed_entry_id", entryID)
	ctx, span := tracer.Start(ctx, "ledger.ReverseMovement", trace.WithAttributes(attribute.Int64("entry.id", entryID)))
	defer func() { s.finish(ctx, span, OpReverseMovement, err) }()

	if err := source.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}

	var entry *entity.TransactionEntry
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		original, err := s.entries.Get(ctx, entryID)
		if err != nil {
			return err
		}
		if original.IsReversal() {
			return apperror.NewValidation("a reversal entry cannot be reversed").WithDetail("entry_id", entryID)
		}

		// Lock before looking for an earlier reversal so two concurrent
		// reversals of the same entry serialize here.
		l, err := s.ledgers.LockExisting(ctx, original.LedgerKey)
		if err != nil {
			if apperror.IsNotFound(err) {
				return apperror.NewLedgerInconsistency("ledger of entry is missing").
					WithDetail("entry_id", entryID).
					WithDetail("ledger", original.LedgerKey.String())
			}
			return fmt.Errorf("lock ledger: %w", err)
		}

		existing, err := s.entries.FindReversal(ctx, entryID)
		if err != nil {
			return fmt.Errorf("find reversal: %w", err)
		}
		if existing != nil {
			return apperror.NewConflict("entry is already reversed").
				WithDetail("entry_id", entryID).
				WithDetail("reversal_id", existing.ID)
		}

		reverses := original.ID
		entry, err = s.post(ctx, l, posting{
			bucket:   original.Bucket,
			qty:      original.Quantity.Neg(),
			unitCost: original.UnitCost,
			source:   source,
			kind:     entity.OperationDeleteReversal,
			reverses: &reverses,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "movement reversed",
		"entry_id", entry.ID,
		"ledger", entry.LedgerKey.String(),
		"balance_after", entry.BalanceAfter.String(),
	)
	return entry, nil
}

// TransferResult holds the two legs of a transfer.
type TransferResult struct {
	Out *entity.TransactionEntry `json:"out"`
	In  *entity.TransactionEntry `json:"in"`
}

// Transfer moves qty from one ledger to another of the same product.
// The outgoing leg leaves at the source average cost and the incoming leg is
// valued at that cost.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (_ *TransferResult, err error) {
	ctx, span := s.startSpan(ctx, "ledger.Transfer", req.From)
	defer func() { s.finish(ctx, span, OpTransfer, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result TransferResult
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		from, to, err := s.lockTransferPair(ctx, req)
		if err != nil {
			return err
		}

		if from.AvailableQty().LessThan(req.Qty) {
			return apperror.NewInsufficientStock(
				req.From.ProductID.String(),
				req.Qty.String(),
				from.AvailableQty().String(),
			).WithDetail("ledger", req.From.String())
		}

		if to.BatchNumber == nil && to.ExpiryDate == nil && to.LastTransactionAt == nil {
			to.BatchNumber = from.BatchNumber
			to.ExpiryDate = from.ExpiryDate
		}

		var cost *types.Money
		if from.AverageCost != nil {
			cost = types.MoneyPtr(*from.AverageCost)
		}

		result.Out, err = s.post(ctx, from, posting{
			bucket:   entity.BucketOnHand,
			qty:      req.Qty.Neg(),
			unitCost: cost,
			source:   req.Source,
			kind:     entity.OperationInitial,
		})
		if err != nil {
			return err
		}
		result.In, err = s.post(ctx, to, posting{
			bucket:   entity.BucketOnHand,
			qty:      req.Qty,
			unitCost: cost,
			source:   req.Source,
			kind:     entity.OperationInitial,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock transferred",
		"to", req.To.String(),
		"quantity", req.Qty.String(),
	)
	return &result, nil
}

// lockTransferPair locks both ledgers in key order. The source must exist.
func (s *Service) lockTransferPair(ctx context.Context, req TransferRequest) (from, to *entity.LocationLedger, err error) {
	lockFrom := func() error {
		from, err = s.ledgers.LockExisting(ctx, req.From)
		if apperror.IsNotFound(err) {
			return apperror.NewInsufficientStock(req.From.ProductID.String(), req.Qty.String(), "0").
				WithDetail("ledger", req.From.String())
		}
		return err
	}
	lockTo := func() error {
		to, err = s.ledgers.LockOrCreate(ctx, req.To, nil, s.now())
		return err
	}

	first, second := lockFrom, lockTo
	if req.To.Compare(req.From) < 0 {
		first, second = lockTo, lockFrom
	}
	if err := first(); err != nil {
		return nil, nil, err
	}
	if err := second(); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// AdjustInFlight moves the in-transit or in-production counter of a ledger.
// The counter never goes below zero.
func (s *Service) AdjustInFlight(ctx context.Context, req InFlightRequest) (_ *entity.TransactionEntry, err error) {
	ctx, span := s.startSpan(ctx, "ledger.AdjustInFlight", req.Key)
	defer func() { s.finish(ctx, span, OpAdjustInFlight, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var entry *entity.TransactionEntry
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		l, err := s.ledgers.LockOrCreate(ctx, req.Key, req.Batch, s.now())
		if err != nil {
			return fmt.Errorf("lock ledger: %w", err)
		}

		current := l.Bucket(req.Bucket)
		if current.Add(req.SignedQty).IsNegative() {
			return apperror.NewInsufficientStock(
				req.Key.ProductID.String(),
				req.SignedQty.Neg().String(),
				current.String(),
			).WithDetail("ledger", req.Key.String()).WithDetail("bucket", string(req.Bucket))
		}

		entry, err = s.post(ctx, l, posting{
			bucket:   req.Bucket,
			qty:      req.SignedQty,
			unitCost: req.UnitCost,
			source:   req.Source,
			kind:     entity.OperationInitial,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "in-flight quantity adjusted",
		"entry_id", entry.ID,
		"bucket", req.Bucket,
		"balance_after", entry.BalanceAfter.String(),
	)
	return entry, nil
}

// SetThresholds sets or clears the min/max stock levels of a ledger,
// creating the ledger when needed.
func (s *Service) SetThresholds(ctx context.Context, req ThresholdsRequest) (_ *entity.LocationLedger, err error) {
	ctx, span := s.startSpan(ctx, "ledger.SetThresholds", req.Key)
	defer func() { s.finish(ctx, span, OpSetThresholds, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var ledger *entity.LocationLedger
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		l, err := s.ledgers.LockOrCreate(ctx, req.Key, nil, s.now())
		if err != nil {
			return fmt.Errorf("lock ledger: %w", err)
		}
		l.MinStockLevel = req.Min
		l.MaxStockLevel = req.Max
		if err := s.ledgers.Save(ctx, l); err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}
		ledger = l

		return s.events.Publish(ctx, entity.DomainEvent{
			AggregateType: entity.AggregateLocationLedger,
			AggregateID:   l.LedgerKey.String(),
			EventType:     entity.EventThresholdsChanged,
			Payload: ThresholdsChangedEvent{
				LedgerKey:     l.LedgerKey,
				MinStockLevel: l.MinStockLevel,
				MaxStockLevel: l.MaxStockLevel,
				BelowMinimum:  l.BelowMinimum(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// posting describes one entry to write against a locked ledger.
type posting struct {
	bucket     entity.QuantityBucket
	qty        types.Quantity
	unitCost   *types.Money
	source     entity.DocumentRef
	kind       entity.OperationKind
	reverses   *int64
	occurredAt time.Time
}

// post applies p to the locked ledger l, appends the entry, saves l and
// publishes the event. Callers have already checked business rules; any
// invariant broken here is an inconsistency.
func (s *Service) post(ctx context.Context, l *entity.LocationLedger, p posting) (*entity.TransactionEntry, error) {
	before := l.Bucket(p.bucket)
	after := before.Add(p.qty)

	unitCost := p.unitCost
	if p.bucket == entity.BucketOnHand {
		switch {
		case p.qty.IsPositive() && p.unitCost != nil:
			l.AverageCost = Recalculate(l, p.qty, *p.unitCost)
		case p.qty.IsNegative() && p.unitCost == nil && l.AverageCost != nil:
			// Stock leaves at the current average.
			unitCost = types.MoneyPtr(*l.AverageCost)
		}
	}
	l.SetBucket(p.bucket, after)

	if err := l.CheckInvariants(); err != nil {
		return nil, apperror.NewLedgerInconsistency(err.Error()).
			WithDetail("ledger", l.LedgerKey.String()).
			WithDetail("operation_kind", string(p.kind))
	}

	now := p.occurredAt
	if now.IsZero() {
		now = s.now()
	}
	occurredAt := l.Touch(now)

	entry := &entity.TransactionEntry{
		LedgerKey:          l.LedgerKey,
		Bucket:             p.bucket,
		Quantity:           p.qty,
		UnitCost:           unitCost,
		BalanceAfter:       after,
		SourceDocumentType: p.source.Type,
		SourceDocumentID:   p.source.ID,
		OperationKind:      p.kind,
		ReversesEntryID:    p.reverses,
		OccurredAt:         occurredAt,
	}
	if err := s.entries.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append entry: %w", err)
	}
	if err := s.ledgers.Save(ctx, l); err != nil {
		return nil, fmt.Errorf("save ledger: %w", err)
	}

	eventType := entity.EventMovementApplied
	if p.kind == entity.OperationDeleteReversal {
		eventType = entity.EventMovementReversed
	}
	err := s.events.Publish(ctx, entity.DomainEvent{
		AggregateType: entity.AggregateLocationLedger,
		AggregateID:   l.LedgerKey.String(),
		EventType:     eventType,
		Payload: MovementEvent{
			Entry:       *entry,
			CurrentQty:  l.CurrentQty,
			ReservedQty: l.ReservedQty,
			AverageCost: l.AverageCost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", eventType, err)
	}
	return entry, nil
}

// startSpan opens the operation span and tags the context's log lines with the ledger key.
func (s *Service) startSpan(ctx context.Context, name string, key entity.LedgerKey) (context.Context, trace.Span) {
	ctx = logger.WithFields(ctx, "ledger", key.String())
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("product.id", key.ProductID.String()),
		attribute.String("warehouse.id", key.WarehouseID.String()),
		attribute.String("location.id", id.OptionalString(key.LocationID)),
		attribute.String("batch.id", id.OptionalString(key.BatchID)),
	))
}

// finish ends the span, reports the outcome and logs inconsistencies loudly.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()
	s.metrics.Observe(op, err)
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, apperror.CodeOf(err))
	if apperror.IsLedgerInconsistency(err) {
		logger.Error(ctx, "ledger inconsistency, operation aborted",
			"operation", op,
			"error", err,
		)
	}
}
