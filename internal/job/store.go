package job

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store errors.
var (
	// ErrNotFound is returned when a job cannot be found by ID.
	ErrNotFound = errors.New("job: not found")
	// ErrNoJobAvailable is returned by Claim when no queued job is eligible.
	ErrNoJobAvailable = errors.New("job: no job available")
	// ErrLeaseLost is returned when a transition is attempted by a worker
	// that no longer holds the lease, or against a stale version. It is an
	// internal signal: the worker abandons the job without failing it.
	ErrLeaseLost = errors.New("job: lease lost")
	// ErrRetriesExhausted is returned when a failed job has no retries left
	// and may not return to the queue.
	ErrRetriesExhausted = errors.New("job: retries exhausted")
	// ErrNotCancelable is returned when cancellation is requested for a job
	// that is no longer queued.
	ErrNotCancelable = errors.New("job: only queued jobs can be canceled")
)

// Store is the durable record of each job's lifecycle. All mutations go
// through it; it validates transition legality, lease ownership, and the
// optimistic version check before committing.
type Store interface {
	// Create persists a new job. The job must be in queued status.
	Create(ctx context.Context, j *Job) error

	// Get retrieves a job by ID. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns all jobs, newest first.
	List(ctx context.Context) ([]*Job, error)

	// Claim leases the oldest eligible queued job to the given owner and
	// moves it to claimed. Returns ErrNoJobAvailable when the queue is
	// empty or every queued job has a future RunAfter.
	Claim(ctx context.Context, owner string, leaseDur time.Duration) (*Job, error)

	// Transition moves a job to the given status after validating the
	// transition is legal, the caller owns the lease (for transitions out
	// of leased states), and fromVersion matches the stored version.
	// Returns ErrLeaseLost on an ownership or version mismatch. The mutate
	// callback, if non-nil, is applied to the job before commit.
	Transition(ctx context.Context, id, owner string, fromVersion int64, to Status, mutate func(*Job)) (*Job, error)

	// Cancel moves a queued job to canceled. Returns ErrNotCancelable if
	// the job has already been claimed.
	Cancel(ctx context.Context, id string) (*Job, error)

	// ReapExpired returns every job whose lease lapsed before now to
	// queued, incrementing its retry count; jobs with no retries left go
	// to terminal failed instead. It returns the jobs it touched.
	ReapExpired(ctx context.Context, now time.Time) ([]*Job, error)
}

// commitTransition applies the shared state-machine rules to a job that is
// about to move to a new status. Both store implementations funnel every
// mutation through it so the invariants hold regardless of backend.
//
// Rules enforced here:
//   - the transition must be legal per validTransitions
//   - failed -> queued is refused once retryCount reached maxRetries
//   - retry_count increments only on transitions back to queued
//   - lease fields are cleared whenever the job leaves a leased state
//   - CompletedAt is stamped on terminal statuses
//   - error fields and CompletedAt are cleared on requeue, so only jobs
//     resting in failed or timed_out carry a failure record
func commitTransition(j *Job, to Status, maxRetries int, mutate func(*Job)) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}

	if to == StatusQueued && j.RetryCount >= maxRetries {
		return ErrRetriesExhausted
	}

	from := j.Status
	j.Status = to

	if mutate != nil {
		mutate(j)
	}

	now := time.Now().UTC()
	switch to {
	case StatusQueued:
		if from == StatusClaimed || from == StatusFailed {
			j.RetryCount++
		}
		j.LeaseOwner = ""
		j.LeaseExpiresAt = time.Time{}
		// A requeued job is live again: the previous attempt's failure
		// record and completion stamp must not survive into the retry.
		j.ErrorKind = ""
		j.ErrorMessage = ""
		j.CompletedAt = time.Time{}
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusTimedOut:
		j.LeaseOwner = ""
		j.LeaseExpiresAt = time.Time{}
		j.CompletedAt = now
	}

	j.Version++
	return nil
}

// leasedStates are the statuses a job can only leave while its lease owner
// performs the transition.
func isLeased(s Status) bool {
	switch s {
	case StatusClaimed, StatusRunning, StatusUploading, StatusFinalizing:
		return true
	default:
		return false
	}
}
