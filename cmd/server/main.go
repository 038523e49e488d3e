/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payment reconciliation server: the operator
  API, the batch scheduler and the writeback sink. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Build the logger
  3. Initialize SQLite store
  4. Load reference data and seed the maximum weekly benefit table
  5. Build the writeback sink (NATS behind a circuit breaker, or log-only)
  6. Create service, runner, API handler and scheduler
  7. Start server with graceful shutdown

ENVIRONMENT:
  DATABASE_PATH, PORT, INBOX_DIR, PROCESSED_DIR, ERROR_DIR,
  PRENOTE_WAITING_PERIOD_DAYS, MAX_WEEKLY_BENEFIT_TABLE, NATS_URL,
  WRITEBACK_SUBJECT, SCHEDULER_ENABLED, SCHEDULER_INTERVAL, LOG_LEVEL
  See config/config.go for defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels an in-flight pass; its batch rolls back)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close NATS and database connections

SEE ALSO:
  - api/server.go: Router configuration
  - pipeline/runner.go: Batch pipeline
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/payment-reconciler/api"
	"github.com/warp/payment-reconciler/config"
	"github.com/warp/payment-reconciler/extract"
	"github.com/warp/payment-reconciler/factory"
	"github.com/warp/payment-reconciler/logging"
	"github.com/warp/payment-reconciler/payments"
	"github.com/warp/payment-reconciler/pipeline"
	"github.com/warp/payment-reconciler/sink"
	"github.com/warp/payment-reconciler/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	reference, err := factory.NewReferenceFactory().LoadFile(cfg.MaxWeeklyBenefitFile)
	if err != nil {
		return err
	}
	table, err := seedMaxWeeklyBenefits(ctx, store, reference, cfg.MaxWeeklyBenefitFile != "")
	if err != nil {
		return err
	}

	writeback, closeSink, err := newSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	service := payments.NewService(store, payments.Options{
		Validator:            payments.NewValidator(reference.Lookups),
		MaxWeekly:            table,
		PrenoteWaitingPeriod: &cfg.PrenoteWaitingPeriod,
		Logger:               logger.Named("payments"),
	})

	for _, dir := range []string{cfg.InboxDir, cfg.ProcessedDir, cfg.ErrorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	runner := pipeline.NewRunner(
		cfg.InboxDir,
		service,
		extract.NewCSVSource(),
		extract.NewArchiver(cfg.ProcessedDir, cfg.ErrorDir),
		store,
		writeback,
		logger.Named("pipeline"),
	)

	handler := api.NewHandler(service, runner, store, store, reference.Lookups, store, logger.Named("api"))
	router := api.NewRouter(handler)

	scheduler := api.NewBatchScheduler(runner, logger.Named("scheduler"))
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // POST /api/runs processes batches inline
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	scheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		scheduler.Stop()
		return err
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// seedMaxWeeklyBenefits stores the cap table and returns the one in force.
// An explicit file always overwrites; otherwise the built-in values only
// fill an empty table.
func seedMaxWeeklyBenefits(ctx context.Context, store *sqlite.Store, reference *factory.ReferenceData, explicit bool) (*payments.EffectiveDatedTable, error) {
	stored, err := store.ListMaxWeeklyBenefitAmounts(ctx)
	if err != nil {
		return nil, err
	}
	if explicit || len(stored) == 0 {
		if err := store.SaveMaxWeeklyBenefitAmounts(ctx, reference.MaxWeeklyBenefitAmounts); err != nil {
			return nil, fmt.Errorf("seed maximum weekly benefits: %w", err)
		}
		if stored, err = store.ListMaxWeeklyBenefitAmounts(ctx); err != nil {
			return nil, err
		}
	}
	return payments.NewEffectiveDatedTable(stored), nil
}

// newSink publishes to NATS when NATS_URL is set, otherwise logs.
func newSink(cfg *config.Config, logger *zap.Logger) (payments.WritebackSink, func(), error) {
	if cfg.NATSURL == "" {
		logger.Info("NATS_URL not set, writeback records are logged only")
		return sink.NewLogSink(logger.Named("writeback")), func() {}, nil
	}

	conn, err := sink.Connect(sink.DefaultNATSConfig(cfg.NATSURL))
	if err != nil {
		return nil, nil, err
	}
	publisher := sink.NewNATSSink(conn, cfg.WritebackSubject)
	guarded := sink.NewBreakerSink(publisher, sink.DefaultBreakerConfig("writeback-nats"), logger.Named("writeback"))
	return guarded, func() {
		if err := conn.Drain(); err != nil {
			logger.Warn("failed to drain NATS connection", zap.Error(err))
		}
	}, nil
}
