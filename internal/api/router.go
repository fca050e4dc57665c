// Package api assembles the HTTP surface of the price change agent:
// mailbox and message management, the review queue, conversation views,
// impact analysis, attachments and the event stream.
package api

import (
	"log/slog"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/api/handlers"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/api/middleware"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/events"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/impact"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/ingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/storage"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/thread"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB          *gorm.DB
	FileStorage storage.FileStorage
	Coordinator ingest.Coordinator
	Analyzer    impact.Service
	Threads     thread.Service
	Hub         *events.Hub
	Scheduler   *ingest.Scheduler
	Logger      *slog.Logger
	// Security configuration
	APIKey         string   // API key for authentication (empty = disabled)
	AllowedOrigins []string // Allowed CORS origins
	RateLimit      int      // Requests per second (0 = use env default)
	RateBurst      int      // Burst size for rate limiter
	EnableAuth     bool     // Enable API key authentication
}

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Security Middleware (applied in correct order)
	// 1. Recover from panics
	e.Use(middleware.Recover())

	// 2. Security headers (applied to all responses)
	e.Use(middleware.SecureHeaders())

	// 3. CORS - Set environment variable if origins provided in config
	if len(cfg.AllowedOrigins) > 0 {
		os.Setenv("ALLOWED_ORIGINS", strings.Join(cfg.AllowedOrigins, ","))
	}
	e.Use(middleware.SecureCORS())

	// 4. Rate limiting - use RateLimiterWithConfig if custom values provided
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(float64(cfg.RateLimit), cfg.RateBurst, cfg.Logger))
	} else {
		e.Use(middleware.RateLimiter(cfg.Logger))
	}

	// 5. Request logging
	if cfg.Logger != nil {
		e.Use(middleware.RequestLogger(cfg.Logger))
	}

	// Initialize repositories
	mailboxRepo := repository.NewMailboxRepository(cfg.DB)
	messageRepo := repository.NewMessageRepository(cfg.DB)
	attachmentRepo := repository.NewAttachmentRepository(cfg.DB, cfg.FileStorage)
	impactRepo := repository.NewImpactRepository(cfg.DB)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Scheduler)
	mailboxHandler := handlers.NewMailboxHandler(mailboxRepo, cfg.Coordinator)
	messageHandler := handlers.NewMessageHandler(messageRepo, mailboxRepo, cfg.Coordinator)
	attachmentHandler := handlers.NewAttachmentHandler(attachmentRepo, messageRepo, cfg.FileStorage)
	reviewHandler := handlers.NewReviewHandler(messageRepo, cfg.Coordinator)
	threadHandler := handlers.NewThreadHandler(cfg.Threads)
	impactHandler := handlers.NewImpactHandler(impactRepo, messageRepo, cfg.Analyzer)

	// Health routes (no auth required)
	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)

	// Event stream (origin-checked during upgrade)
	if cfg.Hub != nil {
		wsHandler := handlers.NewWSHandler(cfg.Hub, cfg.Logger)
		e.GET("/ws", wsHandler.Connect)
	}

	// API routes
	api := e.Group("/api")

	// Apply API key authentication if enabled
	// Set API_KEY env var if provided in config
	if cfg.EnableAuth && cfg.APIKey != "" {
		os.Setenv("API_KEY", cfg.APIKey)
	}
	api.Use(middleware.APIKeyAuth(cfg.Logger))

	// Mailbox routes
	mailboxes := api.Group("/mailboxes")
	mailboxes.POST("", mailboxHandler.Create)
	mailboxes.GET("", mailboxHandler.List)
	mailboxes.GET("/:id", mailboxHandler.Get)
	mailboxes.PATCH("/:id", mailboxHandler.Update)
	mailboxes.DELETE("/:id", mailboxHandler.Delete)
	mailboxes.POST("/:id/sync", mailboxHandler.Sync)

	// Message routes (nested under mailboxes)
	mailboxes.GET("/:mailbox_id/messages", messageHandler.List)

	// Message routes (standalone)
	messages := api.Group("/messages")
	messages.GET("/:id", messageHandler.Get)
	messages.DELETE("/:id", messageHandler.Delete)
	messages.POST("/:id/process", messageHandler.Reprocess)
	messages.GET("/:id/impacts", impactHandler.ListByMessage)
	messages.POST("/:id/analyze", impactHandler.Analyze)

	// Attachment routes (nested under messages)
	messages.GET("/:message_id/attachments", attachmentHandler.List)

	// Attachment routes (standalone)
	attachments := api.Group("/attachments")
	attachments.GET("/:id", attachmentHandler.Get)
	attachments.GET("/:id/download", attachmentHandler.Download)

	// Review queue routes
	reviews := api.Group("/reviews")
	reviews.GET("/pending", reviewHandler.ListPending)
	reviews.POST("/:message_id/approve", reviewHandler.Approve)
	reviews.POST("/:message_id/reject", reviewHandler.Reject)

	// Conversation routes
	threads := api.Group("/threads")
	threads.GET("/:conversation_id", threadHandler.Get)

	// Impact result routes
	impacts := api.Group("/impacts")
	impacts.GET("/:id", impactHandler.Get)
	impacts.POST("/:id/approve", impactHandler.Approve)

	return e
}
