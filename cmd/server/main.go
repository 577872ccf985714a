package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/infrastructure/config"
	"mailpilot-service/internal/infrastructure/oauth"
	"mailpilot-service/internal/infrastructure/persistence"
	"mailpilot-service/internal/infrastructure/router"
	"mailpilot-service/internal/interface/gmail"
	"mailpilot-service/internal/interface/repository"
	"mailpilot-service/internal/usecase"
	"mailpilot-service/pkg/logger"
	"mailpilot-service/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	// Create logger
	log := logger.NewLoggerWithLevel(cfg.LogLevel)
	log.Info("Starting Mailpilot Service", "version", cfg.AppVersion)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up MongoDB connection
	log.Info("Connecting to MongoDB")
	mongoClient, db, err := persistence.NewMongoClient(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoUser, cfg.MongoPassword)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", "error", err)
	}

	// Set up PostgreSQL connection
	log.Info("Connecting to PostgreSQL")
	gormDB, err := gorm.Open(postgres.Open(cfg.PostgresURI), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", "error", err)
	}

	// Set up repositories
	accountRepo := repository.NewGormAccountRepository(gormDB)
	outboundRepo := repository.NewGormOutboundRepository(gormDB)
	campaignRepo := repository.NewGormCampaignRepository(gormDB)
	quotaRepo := repository.NewGormQuotaRepository(gormDB, cfg.DailySendQuota)
	emailRepo := repository.NewMongoParsedEmailRepository(db)
	runRepo := repository.NewMongoSyncRunRepository(db)

	// Set up metrics and OAuth token management
	m := metrics.NewMetrics("mailpilot")
	tokenManager := oauth.NewTokenManager(cfg.GmailClientID, cfg.GmailClientSecret, accountRepo, m, log)

	// Set up provider factories
	fetcherFactory := gmail.NewFetcherFactory(log)
	senderFactory := gmail.NewSenderFactory(cfg.AppBaseURL, log)

	// Set up usecases
	orchestrator := usecase.NewSyncOrchestrator(
		accountRepo, emailRepo, runRepo,
		tokenManager, fetcherFactory,
		usecase.SyncSettings{
			Interval:          cfg.SyncInterval,
			MaxAccounts:       cfg.SyncMaxAccounts,
			BackfillDays:      cfg.BackfillDays,
			BackfillPageSize:  cfg.BackfillPageSize,
			BackfillMaxPages:  cfg.BackfillMaxPages,
			IncrementalWindow: cfg.IncrementalWindow,
		},
		m, log,
	)
	dispatcher := usecase.NewCampaignDispatcher(
		campaignRepo, outboundRepo, accountRepo, quotaRepo,
		tokenManager, senderFactory,
		usecase.DispatchSettings{
			Throttle:       cfg.CampaignThrottle,
			MaxPerRun:      cfg.CampaignMaxPerRun,
			MaxRetries:     cfg.MaxSendRetries,
			ScheduledBatch: cfg.ScheduledBatchSize,
		},
		m, log,
	)
	evaluator := usecase.NewFollowUpEvaluator(
		outboundRepo, accountRepo, quotaRepo,
		tokenManager, senderFactory,
		usecase.FollowUpSettings{BatchSize: cfg.FollowUpBatchSize},
		m, log,
	)

	// Start the sync loop
	go runTicker(ctx, "sync", cfg.SyncInterval, log, func() {
		if _, err := orchestrator.Run(ctx, usecase.RunOptions{Trigger: entity.TriggerScheduled}); err != nil {
			log.Error("Sync run failed", "error", err)
		}
	})

	// Start the dispatch loop
	go runTicker(ctx, "dispatch", cfg.DispatchInterval, log, func() {
		if err := dispatcher.ProcessCampaigns(ctx); err != nil {
			log.Error("Campaign dispatch failed", "error", err)
		}
		if err := dispatcher.ProcessScheduled(ctx); err != nil {
			log.Error("Scheduled flush failed", "error", err)
		}
	})

	// Start the follow-up loop
	go runTicker(ctx, "followups", cfg.FollowUpInterval, log, func() {
		if err := evaluator.ProcessFollowUps(ctx); err != nil {
			log.Error("Follow-up pass failed", "error", err)
		}
	})

	// Set up HTTP server for metrics, health and manual job triggers
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Healthy"))
	})
	router.NewJobRouter(orchestrator, dispatcher, evaluator, runRepo, emailRepo, quotaRepo, cfg.JobTriggerToken, log).Register(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received signal", "signal", sig)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	cancel() // Cancel the context to stop all loops

	// Disconnect from MongoDB
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		log.Error("MongoDB disconnect error", "error", err)
	}

	log.Info("Mailpilot Service stopped")
}

// runTicker runs fn on every tick until the context is cancelled. A zero
// or negative interval disables the loop.
func runTicker(ctx context.Context, name string, interval time.Duration, log logger.Logger, fn func()) {
	if interval <= 0 {
		log.Info("Loop disabled", "loop", name)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Loop stopped", "loop", name)
			return
		case <-ticker.C:
			fn()
		}
	}
}
