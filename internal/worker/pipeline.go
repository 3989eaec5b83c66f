package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blanklogo/pipeline/internal/job"
	"github.com/blanklogo/pipeline/internal/notify"
	"github.com/blanklogo/pipeline/internal/process"
)

// runJob drives one claimed job through download, processing, publish, and
// credit commit, in that strict order: a user is never charged for a job
// with no output and never receives an output without being charged.
func (p *Pool) runJob(ctx context.Context, owner string, j *job.Job) {
	logger := p.logger.With(
		slog.String("worker", owner),
		slog.String("job_id", j.ID),
	)
	logger.Info("job claimed",
		slog.String("mode", string(j.Mode)),
		slog.Int("retry_count", j.RetryCount),
	)

	// Bookkeeping must survive both the job budget and a graceful
	// shutdown; an abandoned half-open transition is the reaper's problem,
	// a lost release is a correctness bug.
	bookCtx := context.WithoutCancel(ctx)

	deadline := j.CreatedAt.Add(p.cfg.JobTimeout)
	if !time.Now().Before(deadline) {
		p.timeOut(bookCtx, owner, j)
		return
	}
	jobCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	j, ok := p.transition(bookCtx, owner, j, job.StatusRunning, nil)
	if !ok {
		return
	}

	workDir, err := os.MkdirTemp("", "blanklogo-job-")
	if err != nil {
		p.fail(ctx, owner, j, job.ErrorKindLocalTransform, fmt.Errorf("create work dir: %w", err))
		return
	}
	defer func() {
		if err := p.storage.CleanupTemp(bookCtx, []string{workDir}); err != nil {
			logger.Warn("work dir cleanup failed", slog.String("error", err.Error()))
		}
	}()

	// Download.
	res, err := p.downloader.Acquire(jobCtx, j.Input, workDir)
	if err != nil {
		p.fail(ctx, owner, j, job.ErrorKindAcquisition, err)
		return
	}
	logger.Info("input acquired", slog.String("strategy", res.Strategy))

	// Process.
	outPath := filepath.Join(workDir, "output.mp4")
	err = p.processor.Process(jobCtx, process.Request{
		InputPath:    res.Path,
		OutputPath:   outPath,
		Mode:         j.Mode,
		Platform:     j.Platform,
		CropPixels:   j.CropPixels,
		CropPosition: j.CropPosition,
	})
	if err != nil {
		kind := job.ErrorKindLocalTransform
		var procErr *process.Error
		if errors.As(err, &procErr) {
			kind = procErr.Kind
		}
		p.fail(ctx, owner, j, kind, err)
		return
	}

	// Publish.
	j, ok = p.transition(bookCtx, owner, j, job.StatusUploading, func(jb *job.Job) {
		jb.StrategyUsed = res.Strategy
	})
	if !ok {
		return
	}
	outputRef, err := p.storage.Publish(jobCtx, j.ID+".mp4", outPath)
	if err != nil {
		p.fail(ctx, owner, j, job.ErrorKindPublish, err)
		return
	}

	// Charge.
	j, ok = p.transition(bookCtx, owner, j, job.StatusFinalizing, nil)
	if !ok {
		return
	}
	if err := p.ledger.Commit(bookCtx, j.ReservationID); err != nil {
		p.fail(ctx, owner, j, job.ErrorKindFinalize, fmt.Errorf("commit reservation: %w", err))
		return
	}

	// Terminal success.
	j, ok = p.transition(bookCtx, owner, j, job.StatusSucceeded, func(jb *job.Job) {
		jb.OutputRef = outputRef
		jb.CreditsCharged = jb.CreditsReserved
	})
	if !ok {
		// The charge is committed and idempotent; the reaper will requeue
		// and the retry will find Commit a no-op before succeeding.
		return
	}

	logger.Info("job succeeded", slog.String("output_ref", outputRef))
	p.settleSucceeded(bookCtx, j)
}

// transition commits one state-machine step for a leased job. A false
// return means the lease was lost and the worker must abandon the job
// without marking it failed: another worker or the reaper owns it now.
func (p *Pool) transition(ctx context.Context, owner string, j *job.Job, to job.Status, mutate func(*job.Job)) (*job.Job, bool) {
	next, err := p.store.Transition(ctx, j.ID, owner, j.Version, to, mutate)
	if err != nil {
		if errors.Is(err, job.ErrLeaseLost) {
			p.logger.Warn("lease lost, abandoning job",
				slog.String("worker", owner),
				slog.String("job_id", j.ID),
				slog.String("attempted", string(to)),
			)
			return nil, false
		}
		p.logger.Error("transition failed",
			slog.String("job_id", j.ID),
			slog.String("attempted", string(to)),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return next, true
}

// fail records a failure and either requeues the job with backoff or, once
// retries are exhausted, settles it as terminal failed. A failure caused by
// the job's wall-clock budget becomes terminal timed_out instead. When the
// pool itself is shutting down the step error is not the job's fault: the
// lease is abandoned untouched and the reaper recovers the job, so a
// restart never burns retries on healthy work.
func (p *Pool) fail(runCtx context.Context, owner string, j *job.Job, kind job.ErrorKind, cause error) {
	if runCtx.Err() != nil {
		p.logger.Info("shutdown interrupted job, abandoning lease",
			slog.String("worker", owner),
			slog.String("job_id", j.ID),
		)
		return
	}
	ctx := context.WithoutCancel(runCtx)

	if !time.Now().Before(j.CreatedAt.Add(p.cfg.JobTimeout)) {
		p.timeOut(ctx, owner, j)
		return
	}

	p.logger.Warn("job step failed",
		slog.String("job_id", j.ID),
		slog.String("kind", string(kind)),
		slog.String("error", cause.Error()),
	)

	failed, ok := p.transition(ctx, owner, j, job.StatusFailed, func(jb *job.Job) {
		jb.ErrorKind = kind
		jb.ErrorMessage = cause.Error()
	})
	if !ok {
		return
	}

	backoff := p.cfg.RetryBackoff << failed.RetryCount
	requeued, err := p.store.Transition(ctx, failed.ID, owner, failed.Version, job.StatusQueued, func(jb *job.Job) {
		jb.RunAfter = time.Now().UTC().Add(backoff)
	})
	if err != nil {
		if errors.Is(err, job.ErrRetriesExhausted) {
			p.logger.Warn("retries exhausted, job failed terminally",
				slog.String("job_id", failed.ID),
				slog.Int("retry_count", failed.RetryCount),
			)
			p.settleTerminal(ctx, failed)
			return
		}
		if !errors.Is(err, job.ErrLeaseLost) {
			p.logger.Error("requeue failed",
				slog.String("job_id", failed.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	p.logger.Info("job requeued",
		slog.String("job_id", requeued.ID),
		slog.Int("retry_count", requeued.RetryCount),
		slog.Duration("backoff", backoff),
	)
}

// timeOut forces the terminal timed_out transition and releases the open
// reservation. Always terminal, never retried.
func (p *Pool) timeOut(ctx context.Context, owner string, j *job.Job) {
	timed, ok := p.transition(ctx, owner, j, job.StatusTimedOut, func(jb *job.Job) {
		jb.ErrorKind = job.ErrorKindTimeout
		jb.ErrorMessage = "job exceeded its wall-clock budget"
	})
	if !ok {
		return
	}
	p.settleTerminal(ctx, timed)
}

// settleSucceeded dispatches the success notification.
func (p *Pool) settleSucceeded(ctx context.Context, j *job.Job) {
	if err := p.notifier.Notify(ctx, notify.Event{
		JobID:     j.ID,
		UserID:    j.UserID,
		Status:    j.Status,
		OutputRef: j.OutputRef,
	}); err != nil {
		p.logger.Error("success notification failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}
