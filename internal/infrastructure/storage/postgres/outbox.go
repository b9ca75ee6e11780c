package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxMessage represents a message in the transactional outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"` // LocationLedger, Reservation
	AggregateID   string       `db:"aggregate_id"`   // ledger key or reservation ID
	EventType     string       `db:"event_type"`     // stock.movement_applied, ...
	Payload       []byte       `db:"payload"`        // JSON payload
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// OutboxPublisher writes domain events to sys_outbox in the caller's transaction.
type OutboxPublisher struct {
	txManager *TxManager
}

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager}
}

// Publish writes an event to the outbox within the current transaction.
func (p *OutboxPublisher) Publish(ctx context.Context, event entity.DomainEvent) error {
	tx, err := p.txManager.RequireTx(ctx, "outbox publish")
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.New(), event.AggregateType, event.AggregateID, event.EventType, payload, OutboxStatusPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// OutboxHandler delivers one message to the broker.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxRelayConfig tunes the relay.
type OutboxRelayConfig struct {
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration // multiplied by the attempt number
}

// DefaultOutboxRelayConfig returns the worker defaults.
func DefaultOutboxRelayConfig() OutboxRelayConfig {
	return OutboxRelayConfig{
		BatchSize:    100,
		MaxRetries:   5,
		RetryBackoff: time.Minute,
	}
}

// OutboxRelay reads pending messages and hands them to an OutboxHandler.
// Each batch is claimed with FOR UPDATE SKIP LOCKED inside one transaction,
// so several workers can run side by side without double delivery.
type OutboxRelay struct {
	txManager *TxManager
	handler   OutboxHandler
	cfg       OutboxRelayConfig
	now       func() time.Time
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, handler OutboxHandler, cfg OutboxRelayConfig) *OutboxRelay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultOutboxRelayConfig().BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultOutboxRelayConfig().MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultOutboxRelayConfig().RetryBackoff
	}
	return &OutboxRelay{
		txManager: txManager,
		handler:   handler,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

const selectPendingOutbox = `
	SELECT id, aggregate_type, aggregate_id, event_type, payload, status,
	       retry_count, last_error, next_retry_at, created_at, published_at
	FROM sys_outbox
	WHERE status = $1
	  AND (next_retry_at IS NULL OR next_retry_at <= $2)
	ORDER BY created_at, id
	LIMIT $3
	FOR UPDATE SKIP LOCKED`

// ProcessBatch claims and delivers one batch. Returns the number delivered.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	processed := 0
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.txManager.GetQuerier(ctx)

		var messages []*OutboxMessage
		if err := pgxscan.Select(ctx, q, &messages, selectPendingOutbox, OutboxStatusPending, r.now(), r.cfg.BatchSize); err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		for _, msg := range messages {
			if err := r.deliver(ctx, q, msg); err != nil {
				return err
			}
			if msg.Status == OutboxStatusPublished {
				processed++
			}
		}
		return nil
	})
	return processed, err
}

// deliver hands msg to the handler and records the outcome. Only bookkeeping
// failures are returned; handler errors are recorded on the row.
func (r *OutboxRelay) deliver(ctx context.Context, q Querier, msg *OutboxMessage) error {
	handleErr := r.handler.Handle(ctx, msg)
	now := r.now()

	if handleErr == nil {
		msg.Status = OutboxStatusPublished
		_, err := q.Exec(ctx, `
			UPDATE sys_outbox
			SET status = $1, published_at = $2
			WHERE id = $3
		`, OutboxStatusPublished, now, msg.ID)
		if err != nil {
			return fmt.Errorf("mark outbox message published: %w", err)
		}
		return nil
	}

	attempts := msg.RetryCount + 1
	status := OutboxStatusPending
	if attempts >= r.cfg.MaxRetries {
		status = OutboxStatusFailed
	}
	next := now.Add(time.Duration(attempts) * r.cfg.RetryBackoff)
	errText := handleErr.Error()

	logger.Warn(ctx, "outbox delivery failed",
		"message_id", msg.ID,
		"event_type", msg.EventType,
		"attempt", attempts,
		"status", status,
		"error", handleErr,
	)

	msg.Status = status
	_, err := q.Exec(ctx, `
		UPDATE sys_outbox
		SET retry_count = $1, last_error = $2, next_retry_at = $3, status = $4
		WHERE id = $5
	`, attempts, errText, next, status, msg.ID)
	if err != nil {
		return fmt.Errorf("record outbox failure: %w", err)
	}
	return nil
}

// PurgePublished deletes published messages older than before.
func (r *OutboxRelay) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_outbox
		WHERE status = $1 AND published_at < $2
	`, OutboxStatusPublished, before)
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
