package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/accounting/periods"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/pricing"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
)

func main() {
	if app.SkipStartup("api") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "api")

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.Pool())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisOpts := cfg.Redis().AsynqOpt()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ledgerMetrics := observability.NewLedgerMetrics(metrics.Registerer())

	clock := func() time.Time { return time.Now().UTC() }
	ledger := inventory.NewLedger(inventory.LedgerConfig{
		Recorder: inventory.NewRecorder(cfg.Unpost, clock),
		Observer: ledgerMetrics,
		Logger:   logger,
		Clock:    clock,
	})
	batches := inventory.NewBatches(cfg.Batch, clock)
	reservations := inventory.NewReservations(ledger, batches, cfg.ReservationTTL, logger, clock)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), ledger, reservations, logger)

	generator := journals.NewGenerator(
		accounts.NewResolver(accounts.NewRepository(dbpool), nil),
		periods.NewCalendar(periods.NewRepository(dbpool)),
		logger,
	)
	documentService := documents.NewService(documents.Config{
		Store:        documents.NewPostgresStore(dbpool),
		Ledger:       ledger,
		Batches:      batches,
		Reservations: reservations,
		Accounting:   generator,
		Pricing:      pricing.NewQueueRecorder(jobClient, logger),
		Audit:        shared.NewAuditLogger(dbpool),
		Approvals:    shared.NewApprovalRecorder(dbpool, logger),
		Observer:     ledgerMetrics,
		Logger:       logger,
		Clock:        clock,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		DocumentsHandler: documents.NewHandler(logger, documentService, shared.NewIdempotencyStore(dbpool)),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
