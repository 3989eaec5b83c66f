// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInpaintURLRequired is returned when INPAINT_URL is not set.
	ErrInpaintURLRequired = errors.New("config: INPAINT_URL is required")
	// ErrInvalidCreditCost is returned when JOB_CREDIT_COST is not positive.
	ErrInvalidCreditCost = errors.New("config: JOB_CREDIT_COST must be positive")
	// ErrInvalidWorkerCount is returned when WORKER_COUNT is not positive.
	ErrInvalidWorkerCount = errors.New("config: WORKER_COUNT must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Persistence settings. An empty DB_PATH keeps jobs and credits in
	// memory only.
	DBPath  string `env:"DB_PATH" json:"db_path,omitempty"`
	TempDir string `env:"TEMP_DIR, default=/tmp/blanklogo" json:"temp_dir"`

	// Worker settings
	WorkerCount   int           `env:"WORKER_COUNT, default=4" json:"worker_count"`
	MaxRetries    int           `env:"MAX_RETRIES, default=3" json:"max_retries"`
	RetryBackoff  time.Duration `env:"RETRY_BACKOFF, default=10s" json:"retry_backoff"`
	LeaseDuration time.Duration `env:"LEASE_DURATION, default=5m" json:"lease_duration"`
	ClaimInterval time.Duration `env:"CLAIM_INTERVAL, default=2s" json:"claim_interval"`
	ReapInterval  time.Duration `env:"REAP_INTERVAL, default=30s" json:"reap_interval"`
	JobTimeout    time.Duration `env:"JOB_TIMEOUT, default=30m" json:"job_timeout"`

	// Download settings
	DownloadMinBytes        int64         `env:"DOWNLOAD_MIN_BYTES, default=102400" json:"download_min_bytes"`
	DownloadStrategyTimeout time.Duration `env:"DOWNLOAD_STRATEGY_TIMEOUT, default=45s" json:"download_strategy_timeout"`
	StreamCopyMaxSec        int           `env:"STREAM_COPY_MAX_SEC, default=300" json:"stream_copy_max_sec"`
	YtDlpCookiesFile        string        `env:"YTDLP_COOKIES_FILE" json:"ytdlp_cookies_file,omitempty"`

	// Inpainting backend settings
	InpaintURL    string `env:"INPAINT_URL, required" json:"inpaint_url"`
	InpaintAPIKey string `env:"INPAINT_API_KEY" json:"-"` // Masked in JSON

	// Billing settings
	JobCreditCost int `env:"JOB_CREDIT_COST, default=1" json:"job_credit_cost"`

	// Notification settings. An empty WEBHOOK_URL logs terminal events
	// instead of delivering them.
	WebhookURL string `env:"WEBHOOK_URL" json:"webhook_url,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "INPAINT_URL") {
			return nil, ErrInpaintURLRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.InpaintURL == "" {
		return ErrInpaintURLRequired
	}
	if c.JobCreditCost <= 0 {
		return ErrInvalidCreditCost
	}
	if c.WorkerCount <= 0 {
		return ErrInvalidWorkerCount
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DBPath: %s, TempDir: %s, WorkerCount: %d, MaxRetries: %d, JobTimeout: %s, InpaintURL: %s, JobCreditCost: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DBPath,
		c.TempDir,
		c.WorkerCount,
		c.MaxRetries,
		c.JobTimeout,
		c.InpaintURL,
		c.JobCreditCost,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
