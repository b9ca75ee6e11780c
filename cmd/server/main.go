// Package main is the entry point for the stock ledger API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reservation"
	v1 "stockledger/internal/infrastructure/http/v1"
	"stockledger/internal/infrastructure/metrics"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/internal/infrastructure/storage/postgres/ledger_repo"
	"stockledger/pkg/logger"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
		Service:     "stockledger-server",
		Environment: getEnv("APP_ENV", "development"),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting stockledger server", "version", version)

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	poolCfg.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(poolCfg.MaxConns)))
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	if getEnv("APPLY_SCHEMA", "true") == "true" {
		if err := postgres.ApplySchema(ctx, pool); err != nil {
			log.Fatalw("failed to apply schema", "error", err)
		}
		log.Info("schema applied")
	}

	txManager := postgres.NewTxManager(pool, getEnvInt("TX_MAX_RETRIES", 3))

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(registry)

	// --- Services ---
	policy, err := reservation.NewEligibilityPolicy(getEnv("RESERVATION_ELIGIBILITY", ""))
	if err != nil {
		log.Fatalw("invalid reservation eligibility expression", "error", err)
	}

	ledgerRepo := ledger_repo.NewLedgerRepo(txManager)
	outbox := postgres.NewOutboxPublisher(txManager)

	ledgerService := ledger.NewService(ledger.ServiceConfig{
		Ledgers:   ledgerRepo,
		Entries:   ledger_repo.NewEntryRepo(txManager),
		TxManager: txManager,
		Events:    outbox,
		Metrics:   collector,
	})
	reservationService := reservation.NewService(reservation.ServiceConfig{
		Reservations: ledger_repo.NewReservationRepo(txManager),
		Ledgers:      ledgerRepo,
		Mover:        ledgerService,
		TxManager:    txManager,
		Policy:       policy,
		Events:       outbox,
		Metrics:      collector,
	})

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Ledger:         ledgerService,
		Reservations:   reservationService,
		DB:             pool,
		PoolStats:      pool.Stats,
		Metrics:        collector,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Logger:         log,
		Version:        version,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go reportPoolStats(statsCtx, pool, collector, getEnvDuration("POOL_STATS_INTERVAL", time.Minute))

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	stopStats()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func reportPoolStats(ctx context.Context, pool *postgres.Pool, collector *metrics.Collector, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.ObservePool(pool.Stats())
			pool.LogStats(ctx)
		}
	}
}
