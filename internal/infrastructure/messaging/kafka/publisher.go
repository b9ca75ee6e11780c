// Package kafka delivers outbox messages to Kafka.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/kafka-go"

	"stockledger/internal/infrastructure/storage/postgres"
)

// Header names set on every produced message.
const (
	HeaderEventType       = "event-type"
	HeaderAggregateType   = "aggregate-type"
	HeaderMessageID       = "message-id"
	HeaderContentEncoding = "content-encoding"
)

// DefaultCompressThreshold is the payload size above which payloads are zstd-compressed.
const DefaultCompressThreshold = 4 << 10

// MessageProducer is the part of *kafka.Writer the publisher needs.
type MessageProducer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds broker settings.
type Config struct {
	Brokers           []string
	Topic             string
	BatchTimeout      time.Duration
	CompressThreshold int
}

// NewWriter creates a writer that keeps messages of one aggregate in one
// partition, so consumers see them in commit order.
func NewWriter(cfg Config) *kafka.Writer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Publisher implements postgres.OutboxHandler.
type Publisher struct {
	producer  MessageProducer
	encoder   *zstd.Encoder
	threshold int
}

// NewPublisher creates a publisher over producer.
func NewPublisher(producer MessageProducer, compressThreshold int) (*Publisher, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	if compressThreshold <= 0 {
		compressThreshold = DefaultCompressThreshold
	}
	return &Publisher{producer: producer, encoder: encoder, threshold: compressThreshold}, nil
}

// Handle produces msg keyed by its aggregate ID.
func (p *Publisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	if err := p.producer.WriteMessages(ctx, p.toKafka(msg)); err != nil {
		return fmt.Errorf("write %s message: %w", msg.EventType, err)
	}
	return nil
}

func (p *Publisher) toKafka(msg *postgres.OutboxMessage) kafka.Message {
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(msg.EventType)},
		{Key: HeaderAggregateType, Value: []byte(msg.AggregateType)},
		{Key: HeaderMessageID, Value: []byte(msg.ID.String())},
	}

	value := msg.Payload
	if len(value) > p.threshold {
		value = p.encoder.EncodeAll(value, make([]byte, 0, len(value)/2))
		headers = append(headers, kafka.Header{Key: HeaderContentEncoding, Value: []byte("zstd")})
	}

	return kafka.Message{
		Key:     []byte(msg.AggregateID),
		Value:   value,
		Headers: headers,
		Time:    msg.CreatedAt,
	}
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	p.encoder.Close()
	return p.producer.Close()
}

var _ postgres.OutboxHandler = (*Publisher)(nil)
