// Command emailagent runs the supplier price-change intake service: the
// REST API, the SMTP intake gateway, the websocket event hub, and the
// background mailbox poller, all sharing one pipeline coordinator.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/api"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/classify"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/config"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/database"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/erp"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/events"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/extract"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/impact"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/ingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/mailfeed"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/smtpingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/storage"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/thread"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/trust"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadWithValidation()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	if err := run(cfg, log); err != nil {
		log.Error("service exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

// newLogger builds the process-wide JSON logger
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Repositories
	mailboxRepo := repository.NewMailboxRepository(db)
	cursorRepo := repository.NewSyncCursorRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	recordRepo := repository.NewPriceChangeRepository(db)
	impactRepo := repository.NewImpactRepository(db)
	snapshotRepo := repository.NewTrustSnapshotRepository(db)

	// Attachment storage
	fileStorage, err := storage.NewLocalStorage(cfg.AttachmentStoragePath)
	if err != nil {
		return fmt.Errorf("failed to initialize attachment storage: %w", err)
	}

	// ERP client, shared by the trust gate and impact analysis
	erpClient := erp.NewClient(erp.Config{
		BaseURL: cfg.ERPBaseURL,
		APIKey:  cfg.ERPAPIKey,
		Timeout: cfg.ERPTimeout,
	}, log)

	// Sender trust cache, warmed from the last persisted snapshot
	trustCache := trust.NewCache(trust.Config{
		TTL:         cfg.TrustTTL,
		DomainMatch: cfg.TrustDomainMatch,
	}, erpClient, snapshotRepo, log)
	if err := trustCache.Load(ctx); err != nil {
		log.Warn("trust snapshot restore failed, cache starts cold",
			slog.Any("error", err))
	}

	// Classifier and extractor
	semantic, err := classify.NewGeminiClassifier(ctx, classify.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	gate := classify.NewGate(semantic, cfg.ClassifyThreshold, log)

	extractor, err := extract.NewGeminiExtractor(ctx, extract.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}

	// Domain services
	threadSvc := thread.NewService(thread.Config{
		MessageRepo: messageRepo,
		RecordRepo:  recordRepo,
		Logger:      log,
	})
	impactSvc := impact.NewService(impact.Config{
		ERP:               erpClient,
		MessageRepo:       messageRepo,
		ImpactRepo:        impactRepo,
		Concurrency:       int64(cfg.ImpactConcurrency),
		MaxBOMDepth:       cfg.BOMMaxDepth,
		AutoApproveMaxPct: cfg.AutoApproveMaxPct,
		Logger:            log,
	})

	// Websocket event hub
	hub := events.NewHub(log)
	go hub.Run()

	// Mail change feed client
	feed := mailfeed.NewGraphClient(mailfeed.Config{
		BaseURL:      cfg.FeedBaseURL,
		TokenURL:     cfg.FeedTokenURL,
		ClientID:     cfg.FeedClientID,
		ClientSecret: cfg.FeedClientSecret,
		Scope:        cfg.FeedScope,
		Timeout:      cfg.FeedTimeout,
	}, log)

	// Pipeline coordinator
	coordinator := ingest.NewCoordinator(ingest.Config{
		Mailboxes:     mailboxRepo,
		Cursors:       cursorRepo,
		Messages:      messageRepo,
		Records:       recordRepo,
		Feed:          feed,
		Trust:         trustCache,
		Gate:          gate,
		Extractor:     extractor,
		Impact:        impactSvc,
		Threads:       threadSvc,
		Notifier:      events.NewPipelineNotifier(hub),
		InitialWindow: time.Duration(cfg.InitialSyncWindowDays) * 24 * time.Hour,
		Logger:        log,
	})

	// Register configured mailboxes so the first poll cycle picks them up
	for _, address := range cfg.Mailboxes {
		_, created, err := mailboxRepo.GetOrCreate(ctx, address, "")
		if err != nil {
			return fmt.Errorf("failed to register mailbox %s: %w", address, err)
		}
		if created {
			log.Info("registered monitored mailbox", slog.String("address", address))
		}
	}

	// Background mailbox poller
	scheduler := ingest.NewScheduler(coordinator, mailboxRepo, ingest.SchedulerConfig{
		Interval: cfg.SyncInterval,
		Stagger:  cfg.SyncStagger,
	}, log)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP API
	router := api.NewRouter(&api.RouterConfig{
		DB:             db,
		FileStorage:    fileStorage,
		Coordinator:    coordinator,
		Analyzer:       impactSvc,
		Threads:        threadSvc,
		Hub:            hub,
		Scheduler:      scheduler,
		Logger:         log,
		APIKey:         cfg.APIKey,
		AllowedOrigins: splitOrigins(cfg.AllowedOrigins),
		EnableAuth:     cfg.APIKey != "",
		RateLimit:      int(cfg.RateLimitRequests),
		RateBurst:      cfg.RateLimitBurst,
	})

	// SMTP intake gateway
	smtpBackend := smtpingest.NewBackend(&smtpingest.BackendConfig{
		MailboxRepo:   mailboxRepo,
		MessageRepo:   messageRepo,
		FileStorage:   fileStorage,
		Coordinator:   coordinator,
		IntakeAddress: cfg.IntakeAddress,
		Logger:        log,
	})
	smtpCfg := smtpingest.LoadServerConfigFromEnv()
	smtpCfg.Addr = fmt.Sprintf(":%d", cfg.SMTPPort)
	smtpServer := smtpingest.NewSecureServer(smtpBackend, smtpCfg)

	errCh := make(chan error, 2)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		log.Info("api server listening", slog.String("addr", addr))
		if err := router.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server failed: %w", err)
		}
	}()

	go func() {
		log.Info("smtp intake listening",
			slog.String("addr", smtpServer.Addr),
			slog.String("intake_address", cfg.IntakeAddress))
		if err := smtpServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("smtp server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	scheduler.Stop()
	if err := smtpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("smtp server shutdown failed", slog.Any("error", err))
	}
	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error("api server shutdown failed", slog.Any("error", err))
	}

	log.Info("service stopped")
	return nil
}

// splitOrigins turns the comma-separated ALLOWED_ORIGINS value into a list
func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
