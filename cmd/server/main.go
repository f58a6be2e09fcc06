package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ezmail/ezmail/internal/compose"
	"github.com/ezmail/ezmail/internal/config"
	"github.com/ezmail/ezmail/internal/database"
	"github.com/ezmail/ezmail/internal/delivery"
	"github.com/ezmail/ezmail/internal/handler"
	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/middleware"
	"github.com/ezmail/ezmail/internal/model"
	"github.com/ezmail/ezmail/internal/quota"
	"github.com/ezmail/ezmail/internal/repository"
	"github.com/ezmail/ezmail/internal/router"
	"github.com/ezmail/ezmail/internal/storage"
	"github.com/ezmail/ezmail/internal/usage"
	"github.com/ezmail/ezmail/internal/validate"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting ezmail server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	// Initialize repositories
	sentRepo := repository.NewSentMessageRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Quota ledger
	ledgerOpts := quota.Options{
		DefaultPlan: model.Resources{
			MonthlyMessages: cfg.Quota.DefaultPlan.MonthlyMessages,
			StorageBytes:    cfg.Quota.DefaultPlan.StorageBytes,
			Contacts:        cfg.Quota.DefaultPlan.Contacts,
		},
		ReservationTTL:   cfg.Quota.ReservationTTL,
		SettledRetention: cfg.Quota.SettledRetention,
	}
	var ledger quota.Ledger
	switch cfg.Quota.Backend {
	case "memory":
		ledger = quota.NewMemoryLedger(ledgerOpts, log)
	default:
		ledger = quota.NewRedisLedger(rdb, ledgerOpts, log)
	}
	log.Info().Str("backend", cfg.Quota.Backend).Msg("quota ledger initialized")

	// Attachment content store
	var store storage.Store
	switch cfg.Storage.Provider {
	case "s3":
		s3Store := storage.NewS3Store(cfg.Storage.S3)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s3Store.EnsureBucket(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("bucket", cfg.Storage.S3.Bucket).Msg("failed to prepare attachment bucket")
		}
		store = s3Store
	default:
		store = storage.NewMemoryStore(log)
	}
	log.Info().Str("provider", cfg.Storage.Provider).Msg("content store initialized")

	// Delivery transport
	var transport delivery.Transport
	switch cfg.Delivery.Transport {
	case "gmail":
		gmailTransport, err := delivery.NewGmailTransport(context.Background(), cfg.Delivery.Gmail, cfg.Delivery.FromAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Gmail transport")
		}
		transport = gmailTransport
	default:
		log.Warn().Msg("no delivery provider configured, messages will be logged only")
		transport = delivery.NewLogTransport(log)
	}
	dispatcher := delivery.NewDispatcher(transport, store, cfg.Delivery, log)

	// Usage analytics, rebuilt from the sent log
	loc, err := cfg.Usage.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid usage timezone")
	}
	agg := usage.NewAggregator(usage.Options{Location: loc, TopRecipients: cfg.Usage.TopRecipients}, log)
	if err := agg.Rebuild(context.Background(), sentRepo); err != nil {
		log.Fatal().Err(err).Msg("failed to rebuild usage counters")
	}

	// Compose service
	composeSvc := compose.NewService(compose.Deps{
		Ledger:     ledger,
		Validator:  validate.NewAttachmentValidator(cfg.Attachments.MaxTotalBytes, cfg.Attachments.AllowedTypes),
		Store:      store,
		Dispatcher: dispatcher,
		SentLog:    sentRepo,
		Recorder:   agg,
		Auditor:    auditRepo,
	}, compose.Config{
		MaxAttempts:      cfg.Compose.MaxAttempts,
		SessionRetention: cfg.Compose.SessionRetention,
		DraftRetention:   cfg.Compose.DraftRetention,
	}, log)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go composeSvc.RunJanitor(janitorCtx, cfg.Quota.SweepInterval)

	// Initialize handlers
	h := handler.New(db, rdb, log, cfg, composeSvc, ledger, agg, sentRepo, auditRepo)

	// Initialize middleware
	mw := middleware.New(rdb, log, cfg)

	// Set up router
	r := router.New(h, mw, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// In-flight dispatches settle their reservations before the process exits
	stopJanitor()
	if err := composeSvc.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("compose service did not shut down cleanly")
	}

	log.Info().Msg("server stopped")
}
