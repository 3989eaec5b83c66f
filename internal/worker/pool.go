// Package worker drives jobs through the pipeline: a pool of workers
// leasing queued jobs, and a reaper that recovers jobs stranded by a
// crashed worker. The Job Store's optimistic transition check, not
// external locking, guarantees exactly one live lease per job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blanklogo/pipeline/internal/credit"
	"github.com/blanklogo/pipeline/internal/download"
	"github.com/blanklogo/pipeline/internal/job"
	"github.com/blanklogo/pipeline/internal/notify"
	"github.com/blanklogo/pipeline/internal/process"
	"github.com/blanklogo/pipeline/internal/storage"
)

// Config holds the worker pool tuning knobs.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// LeaseDuration is how long a claim holds before the reaper may
	// reclaim the job.
	LeaseDuration time.Duration
	// ClaimInterval is the poll delay when the queue is empty.
	ClaimInterval time.Duration
	// ReapInterval is how often expired leases are scanned.
	ReapInterval time.Duration
	// JobTimeout is the global wall-clock budget per job, anchored at
	// creation time.
	JobTimeout time.Duration
	// RetryBackoff is the base inter-retry delay, doubled per attempt.
	RetryBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		LeaseDuration: 5 * time.Minute,
		ClaimInterval: 2 * time.Second,
		ReapInterval:  30 * time.Second,
		JobTimeout:    30 * time.Minute,
		RetryBackoff:  10 * time.Second,
	}
}

// Pool runs the worker loops and the lease reaper.
type Pool struct {
	store      job.Store
	ledger     credit.Ledger
	downloader *download.Downloader
	processor  process.Processor
	storage    storage.Storage
	notifier   notify.Notifier
	cfg        Config
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewPool creates a worker pool over the given collaborators.
func NewPool(
	store job.Store,
	ledger credit.Ledger,
	downloader *download.Downloader,
	processor process.Processor,
	artifacts storage.Storage,
	notifier notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultConfig().LeaseDuration
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = DefaultConfig().ClaimInterval
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultConfig().ReapInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:      store,
		ledger:     ledger,
		downloader: downloader,
		processor:  processor,
		storage:    artifacts,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run starts the workers and the reaper and blocks until ctx is done and
// every in-flight job has been handed back.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started",
		slog.Int("workers", p.cfg.Workers),
		slog.Duration("lease", p.cfg.LeaseDuration),
	)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		owner := fmt.Sprintf("worker-%d", i+1)
		go func() {
			defer p.wg.Done()
			p.workerLoop(ctx, owner)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reaperLoop(ctx)
	}()

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// workerLoop claims and runs jobs until the context is cancelled.
func (p *Pool) workerLoop(ctx context.Context, owner string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j, err := p.store.Claim(ctx, owner, p.cfg.LeaseDuration)
		if err != nil {
			if !errors.Is(err, job.ErrNoJobAvailable) && ctx.Err() == nil {
				p.logger.Error("claim failed",
					slog.String("worker", owner),
					slog.String("error", err.Error()),
				)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.ClaimInterval):
			}
			continue
		}

		p.runJob(ctx, owner, j)
	}
}

// reaperLoop periodically returns expired leases to the queue so a crashed
// worker does not strand a job forever. Jobs it pushes to terminal failed
// get their reservation released and their terminal event dispatched here,
// since no worker will ever see them again.
func (p *Pool) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			touched, err := p.store.ReapExpired(ctx, now.UTC())
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("lease reap failed", slog.String("error", err.Error()))
				}
				continue
			}
			for _, j := range touched {
				p.logger.Warn("reclaimed expired lease",
					slog.String("job_id", j.ID),
					slog.String("status", string(j.Status)),
					slog.Int("retry_count", j.RetryCount),
				)
				if j.Status == job.StatusFailed {
					p.settleTerminal(ctx, j)
				}
			}
		}
	}
}

// settleTerminal releases the reservation of a terminally failed job and
// dispatches its notification. Release is idempotent, so racing a worker
// that already settled is harmless.
func (p *Pool) settleTerminal(ctx context.Context, j *job.Job) {
	if j.ReservationID != "" {
		if err := p.ledger.Release(ctx, j.ReservationID); err != nil && !errors.Is(err, credit.ErrReservationNotFound) {
			p.logger.Error("reservation release failed",
				slog.String("job_id", j.ID),
				slog.String("reservation_id", j.ReservationID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := p.notifier.Notify(ctx, notify.Event{
		JobID:     j.ID,
		UserID:    j.UserID,
		Status:    j.Status,
		OutputRef: j.OutputRef,
		ErrorKind: j.ErrorKind,
		Message:   j.ErrorMessage,
	}); err != nil {
		p.logger.Error("terminal notification failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}
