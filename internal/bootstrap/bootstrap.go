// Package bootstrap provides dependency initialization for the pipeline service.
package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/blanklogo/pipeline/internal/config"
	"github.com/blanklogo/pipeline/internal/credit"
	"github.com/blanklogo/pipeline/internal/download"
	"github.com/blanklogo/pipeline/internal/inpaint"
	"github.com/blanklogo/pipeline/internal/job"
	"github.com/blanklogo/pipeline/internal/media"
	"github.com/blanklogo/pipeline/internal/notify"
	"github.com/blanklogo/pipeline/internal/process"
	"github.com/blanklogo/pipeline/internal/storage"
	"github.com/blanklogo/pipeline/internal/worker"
)

// Dependencies holds all initialized dependencies for the HTTP server and
// the worker pool.
type Dependencies struct {
	Store    job.Store
	Ledger   credit.Ledger
	Notifier notify.Notifier
	Pool     *worker.Pool
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	jobStore, ledger, err := initPersistence(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Inpainting backend client
	var clientOpts []inpaint.ClientOption
	if cfg.InpaintAPIKey != "" {
		clientOpts = append(clientOpts, inpaint.WithAPIKey(cfg.InpaintAPIKey))
	}
	inpaintClient, err := inpaint.NewClient(cfg.InpaintURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create inpaint client: %w", err)
	}

	// Processors
	ffmpeg := media.NewFFmpegProcessor("")
	dispatcher := process.NewDispatcher(
		process.NewCropProcessor(ffmpeg, logger),
		process.NewInpaintProcessor(inpaintClient, 3*time.Second, logger),
	)

	// Download fallback chain
	downloader := download.New(
		download.DefaultChain(cfg.YtDlpCookiesFile, cfg.StreamCopyMaxSec),
		download.Options{
			MinBytes:        cfg.DownloadMinBytes,
			StrategyTimeout: cfg.DownloadStrategyTimeout,
		},
		logger,
	)

	// Terminal event delivery
	var notifier notify.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	pool := worker.NewPool(
		jobStore,
		ledger,
		downloader,
		dispatcher,
		store,
		notifier,
		worker.Config{
			Workers:       cfg.WorkerCount,
			LeaseDuration: cfg.LeaseDuration,
			ClaimInterval: cfg.ClaimInterval,
			ReapInterval:  cfg.ReapInterval,
			JobTimeout:    cfg.JobTimeout,
			RetryBackoff:  cfg.RetryBackoff,
		},
		logger,
	)

	return &Dependencies{
		Store:    jobStore,
		Ledger:   ledger,
		Notifier: notifier,
		Pool:     pool,
	}, nil
}

// initPersistence creates the job store and credit ledger. With DB_PATH set
// both live in the same sqlite file; without it they are in-memory and do
// not survive a restart.
func initPersistence(cfg *config.Config, logger *slog.Logger) (job.Store, credit.Ledger, error) {
	if cfg.DBPath == "" {
		logger.Warn("DB_PATH not set, jobs and credits are in-memory only")
		return job.NewMemoryStore(cfg.MaxRetries, cfg.RetryBackoff), credit.NewMemoryLedger(), nil
	}

	jobStore, err := job.NewSQLiteStore(cfg.DBPath, cfg.MaxRetries, cfg.RetryBackoff)
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}
	ledger, err := credit.NewSQLiteLedger(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open credit ledger: %w", err)
	}
	logger.Info("sqlite persistence configured", slog.String("path", cfg.DBPath))
	return jobStore, ledger, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
