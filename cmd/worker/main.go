// Package main is the entry point for the stock ledger background worker.
// It relays outbox events to Kafka and purges delivered messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"stockledger/internal/infrastructure/messaging/kafka"
	"stockledger/internal/infrastructure/metrics"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
		Service:     "stockledger-worker",
		Environment: getEnv("APP_ENV", "development"),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting stockledger worker")

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool, getEnvInt("TX_MAX_RETRIES", 3))

	writer := kafka.NewWriter(kafka.Config{
		Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		Topic:   getEnv("KAFKA_TOPIC", "stockledger.events"),
	})
	publisher, err := kafka.NewPublisher(writer, getEnvInt("KAFKA_COMPRESS_THRESHOLD", kafka.DefaultCompressThreshold))
	if err != nil {
		log.Fatalw("failed to create kafka publisher", "error", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Errorw("failed to close kafka publisher", "error", err)
		}
	}()

	relayCfg := postgres.DefaultOutboxRelayConfig()
	relayCfg.BatchSize = getEnvInt("OUTBOX_BATCH_SIZE", relayCfg.BatchSize)
	relayCfg.MaxRetries = getEnvInt("OUTBOX_MAX_RETRIES", relayCfg.MaxRetries)

	worker := &Worker{
		relay:        postgres.NewOutboxRelay(txManager, publisher, relayCfg),
		metrics:      metrics.New(prometheus.DefaultRegisterer),
		log:          log.WithComponent("worker"),
		pollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
		retention:    getEnvDuration("OUTBOX_RETENTION", 7*24*time.Hour),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Worker polls the outbox and cleans up after itself.
type Worker struct {
	relay        *postgres.OutboxRelay
	metrics      *metrics.Collector
	log          *logger.Logger
	pollInterval time.Duration
	retention    time.Duration
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		case <-cleanupTicker.C:
			w.purgeOutbox(ctx)
		}
	}
}

// processOutbox keeps relaying until a batch delivers nothing.
func (w *Worker) processOutbox(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.relay.ProcessBatch(ctx)
		if err != nil {
			w.log.Errorw("outbox batch failed", "error", err)
			return
		}
		if n == 0 {
			return
		}
		w.metrics.OutboxDelivered(n)
		w.log.Debugw("relayed outbox batch", "count", n)
	}
}

func (w *Worker) purgeOutbox(ctx context.Context) {
	n, err := w.relay.PurgePublished(ctx, time.Now().Add(-w.retention))
	if err != nil {
		w.log.Errorw("outbox purge failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Infow("purged published outbox messages", "count", n)
	}
}
