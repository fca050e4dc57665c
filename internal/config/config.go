package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Database
	DatabaseURL string

	// Server ports
	APIPort  int
	SMTPPort int

	// Monitored mailboxes (comma-separated addresses)
	Mailboxes []string

	// SMTP intake
	IntakeAddress string

	// Mail change feed
	FeedBaseURL           string
	FeedTokenURL          string
	FeedClientID          string
	FeedClientSecret      string
	FeedScope             string
	FeedTimeout           time.Duration
	InitialSyncWindowDays int
	SyncInterval          time.Duration
	SyncStagger           time.Duration

	// Classifier / extractor
	GeminiAPIKey      string
	GeminiModel       string
	ClassifyThreshold float64

	// ERP
	ERPBaseURL string
	ERPAPIKey  string
	ERPTimeout time.Duration

	// Sender trust
	TrustTTL         time.Duration
	TrustDomainMatch bool

	// Impact analysis
	ImpactConcurrency int
	BOMMaxDepth       int
	AutoApproveMaxPct float64

	// Storage
	AttachmentStoragePath string

	// Logging
	LogLevel string

	// Security
	APIKey         string
	AllowedOrigins string
	AppEnv         string

	// Rate Limiting
	RateLimitRequests float64
	RateLimitBurst    int
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set")
	}

	var err error
	if cfg.APIPort, err = intEnv("API_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = intEnv("SMTP_PORT", 2525); err != nil {
		return nil, err
	}

	// MONITORED_MAILBOXES (comma-separated; may be empty when only the SMTP
	// intake is used)
	if raw := os.Getenv("MONITORED_MAILBOXES"); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				cfg.Mailboxes = append(cfg.Mailboxes, strings.ToLower(addr))
			}
		}
	}

	cfg.IntakeAddress = strings.ToLower(strings.TrimSpace(os.Getenv("INTAKE_ADDRESS")))

	// Mail change feed
	cfg.FeedBaseURL = os.Getenv("FEED_BASE_URL")
	cfg.FeedTokenURL = os.Getenv("FEED_TOKEN_URL")
	cfg.FeedClientID = os.Getenv("FEED_CLIENT_ID")
	cfg.FeedClientSecret = os.Getenv("FEED_CLIENT_SECRET")
	cfg.FeedScope = os.Getenv("FEED_SCOPE")
	if cfg.FeedTimeout, err = durationEnv("FEED_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.InitialSyncWindowDays, err = intEnv("INITIAL_SYNC_WINDOW_DAYS", 14); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = durationEnv("SYNC_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SyncStagger, err = durationEnv("SYNC_STAGGER", 2*time.Second); err != nil {
		return nil, err
	}

	// Classifier / extractor
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = os.Getenv("GEMINI_MODEL")
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.ClassifyThreshold, err = floatEnv("CLASSIFY_THRESHOLD", 0.75); err != nil {
		return nil, err
	}

	// ERP
	cfg.ERPBaseURL = os.Getenv("ERP_BASE_URL")
	cfg.ERPAPIKey = os.Getenv("ERP_API_KEY")
	if cfg.ERPTimeout, err = durationEnv("ERP_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	// Sender trust
	if cfg.TrustTTL, err = durationEnv("TRUST_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.TrustDomainMatch, err = boolEnv("TRUST_DOMAIN_MATCH", true); err != nil {
		return nil, err
	}

	// Impact analysis
	if cfg.ImpactConcurrency, err = intEnv("IMPACT_CONCURRENCY", 5); err != nil {
		return nil, err
	}
	if cfg.BOMMaxDepth, err = intEnv("BOM_MAX_DEPTH", 12); err != nil {
		return nil, err
	}
	if cfg.AutoApproveMaxPct, err = floatEnv("AUTO_APPROVE_MAX_PCT", 10.0); err != nil {
		return nil, err
	}

	// ATTACHMENT_STORAGE_PATH (default: ./attachments)
	cfg.AttachmentStoragePath = os.Getenv("ATTACHMENT_STORAGE_PATH")
	if cfg.AttachmentStoragePath == "" {
		cfg.AttachmentStoragePath = "./attachments"
	}

	// LOG_LEVEL (default: info)
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Security configuration
	cfg.APIKey = os.Getenv("API_KEY")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.AppEnv = os.Getenv("APP_ENV")
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}

	if cfg.RateLimitRequests, err = floatEnv("RATE_LIMIT_REQUESTS", 10.0); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithValidation loads and validates configuration, failing fast on errors
func LoadWithValidation() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Production-specific validation
	if cfg.AppEnv == "production" {
		if err := cfg.ValidateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL cannot be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("APIPort must be between 1 and 65535")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTPPort must be between 1 and 65535")
	}
	if c.AttachmentStoragePath == "" {
		return fmt.Errorf("AttachmentStoragePath cannot be empty")
	}
	if c.ClassifyThreshold < 0 || c.ClassifyThreshold > 1 {
		return fmt.Errorf("ClassifyThreshold must be between 0 and 1")
	}
	if c.InitialSyncWindowDays <= 0 {
		return fmt.Errorf("InitialSyncWindowDays must be positive")
	}
	if c.ImpactConcurrency <= 0 {
		return fmt.Errorf("ImpactConcurrency must be positive")
	}
	if c.BOMMaxDepth <= 0 {
		return fmt.Errorf("BOMMaxDepth must be positive")
	}
	if len(c.Mailboxes) > 0 {
		if c.FeedBaseURL == "" {
			return fmt.Errorf("FEED_BASE_URL is required when mailboxes are configured")
		}
		if c.FeedTokenURL == "" || c.FeedClientID == "" || c.FeedClientSecret == "" {
			return fmt.Errorf("FEED_TOKEN_URL, FEED_CLIENT_ID and FEED_CLIENT_SECRET are required when mailboxes are configured")
		}
	}
	return nil
}

// ValidateProduction performs additional validation for production environment
func (c *Config) ValidateProduction() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}

	if c.AllowedOrigins == "" {
		return fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}

	// Check for wildcard in production
	if strings.Contains(c.AllowedOrigins, "*") {
		return fmt.Errorf("wildcard (*) origins are not allowed in production")
	}

	// Check for sslmode=disable in database URL
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		return fmt.Errorf("sslmode=disable is not allowed in production")
	}

	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required in production")
	}
	if c.ERPBaseURL == "" || c.ERPAPIKey == "" {
		return fmt.Errorf("ERP_BASE_URL and ERP_API_KEY are required in production")
	}

	return nil
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Int("api_port", c.APIPort),
		slog.Int("smtp_port", c.SMTPPort),
		slog.Int("mailboxes", len(c.Mailboxes)),
		slog.String("intake_address", c.IntakeAddress),
		slog.String("sync_interval", c.SyncInterval.String()),
		slog.Int("initial_window_days", c.InitialSyncWindowDays),
		slog.String("gemini_model", c.GeminiModel),
		slog.Float64("classify_threshold", c.ClassifyThreshold),
		slog.String("trust_ttl", c.TrustTTL.String()),
		slog.Bool("trust_domain_match", c.TrustDomainMatch),
		slog.Int("impact_concurrency", c.ImpactConcurrency),
		slog.Int("bom_max_depth", c.BOMMaxDepth),
		slog.String("storage_path", c.AttachmentStoragePath),
		slog.String("log_level", c.LogLevel),
		slog.String("app_env", c.AppEnv),
		slog.Bool("api_key_set", c.APIKey != ""),
		slog.Bool("gemini_key_set", c.GeminiAPIKey != ""),
		slog.Bool("erp_key_set", c.ERPAPIKey != ""),
		slog.Float64("rate_limit_rps", c.RateLimitRequests),
		slog.Int("rate_limit_burst", c.RateLimitBurst),
	)
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid number: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a valid boolean: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return v, nil
}
