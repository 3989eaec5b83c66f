// Package job provides the Job aggregate for the watermark-removal pipeline:
// the job record, its status state machine, and the Store interface that is
// the single source of truth for status, lease, and retry bookkeeping.
package job

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/blanklogo/pipeline/internal/platform"
)

// ProcessingMode selects how the watermark is removed.
type ProcessingMode string

const (
	// ModeCrop trims a fixed border with a local ffmpeg pass.
	ModeCrop ProcessingMode = "crop"
	// ModeInpaint delegates to the external AI inpainting backend.
	ModeInpaint ProcessingMode = "inpaint"
)

// IsValid returns true if the mode is supported.
func (m ProcessingMode) IsValid() bool {
	return m == ModeCrop || m == ModeInpaint
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job is waiting for a worker lease.
	StatusQueued Status = "queued"
	// StatusClaimed indicates a worker holds a lease but has not started.
	StatusClaimed Status = "claimed"
	// StatusRunning indicates the job is being downloaded and processed.
	StatusRunning Status = "running"
	// StatusUploading indicates the output artifact is being published.
	StatusUploading Status = "uploading"
	// StatusFinalizing indicates the credit charge is being committed.
	StatusFinalizing Status = "finalizing"
	// StatusSucceeded indicates the job finished and the user was charged.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the job failed; terminal once retries are spent.
	StatusFailed Status = "failed"
	// StatusCanceled indicates the job was canceled before pickup.
	StatusCanceled Status = "canceled"
	// StatusTimedOut indicates the job exceeded its wall-clock budget.
	StatusTimedOut Status = "timed_out"
)

// ErrInvalidTransition is returned when an illegal state transition is attempted.
var ErrInvalidTransition = errors.New("job: invalid state transition")

// validTransitions defines which state transitions are allowed.
// Any non-terminal state may additionally move to timed_out when the
// global wall-clock budget is exceeded.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusClaimed, StatusCanceled, StatusTimedOut},
	StatusClaimed:    {StatusRunning, StatusFailed, StatusQueued, StatusTimedOut},
	StatusRunning:    {StatusUploading, StatusFailed, StatusTimedOut},
	StatusUploading:  {StatusFinalizing, StatusFailed, StatusTimedOut},
	StatusFinalizing: {StatusSucceeded, StatusFailed, StatusTimedOut},
	StatusFailed:     {StatusQueued, StatusTimedOut},
	StatusSucceeded:  {},
	StatusCanceled:   {},
	StatusTimedOut:   {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status has no outgoing transitions.
// A failed job is terminal only once its retries are exhausted, which the
// Store decides; this reports terminality of the status alone.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusCanceled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ErrorKind classifies a terminal failure for the user-facing message.
type ErrorKind string

const (
	// ErrorKindAcquisition means every download strategy was exhausted.
	ErrorKindAcquisition ErrorKind = "acquisition_failed"
	// ErrorKindLocalTransform means the local crop pass failed.
	ErrorKindLocalTransform ErrorKind = "local_transform_error"
	// ErrorKindInpaintBackend means the AI inpainting backend failed.
	ErrorKindInpaintBackend ErrorKind = "inpaint_backend_error"
	// ErrorKindPublish means the artifact could not be published.
	ErrorKindPublish ErrorKind = "publish_failed"
	// ErrorKindFinalize means the credit charge could not be committed.
	ErrorKindFinalize ErrorKind = "finalize_failed"
	// ErrorKindWorkerLost means a lease expired without a terminal transition.
	ErrorKindWorkerLost ErrorKind = "worker_lost"
	// ErrorKindTimeout means the job exceeded its wall-clock budget.
	ErrorKindTimeout ErrorKind = "timed_out"
)

// InputRef points at the video to process: either a remote URL to acquire
// or a file the user already uploaded.
type InputRef struct {
	// URL is the remote video page or direct file URL.
	URL string
	// UploadPath is the local path of an already-uploaded file.
	UploadPath string
}

// IsRemote returns true when the input must be acquired from a URL.
func (r InputRef) IsRemote() bool {
	return r.URL != ""
}

// Job represents one watermark-removal submission.
type Job struct {
	// ID is the unique identifier, assigned at creation.
	ID string
	// UserID is the owning user, used for credit lookups.
	UserID string
	// Status is the current state machine position.
	Status Status
	// Platform is the source platform preset identifier (sora, tiktok, ...).
	Platform string
	// Mode is the processing mode (crop or inpaint).
	Mode ProcessingMode
	// CropPixels is the effective number of border pixels to trim.
	CropPixels int
	// CropPosition is the effective border to trim from.
	CropPosition platform.Position
	// Input points at the video to process.
	Input InputRef
	// OutputRef is the durable artifact location, set only on success.
	OutputRef string
	// StrategyUsed records which download strategy produced the input.
	StrategyUsed string

	// CreditsReserved is the amount held when the job was created.
	CreditsReserved int
	// CreditsCharged is set exactly once, on success, and never decreases.
	CreditsCharged int
	// ReservationID links the job to its credit reservation.
	ReservationID string

	// RetryCount increases only on transition back to queued.
	RetryCount int
	// LeaseOwner is the worker currently holding the lease, if any.
	LeaseOwner string
	// LeaseExpiresAt is when the current lease lapses.
	LeaseExpiresAt time.Time
	// RunAfter is the earliest time the job is eligible for a claim.
	RunAfter time.Time
	// Version is the optimistic concurrency counter, bumped on every
	// committed mutation.
	Version int64

	// ErrorKind classifies the failure, set only on failed/timed_out.
	ErrorKind ErrorKind
	// ErrorMessage is the user-visible failure detail.
	ErrorMessage string

	CreatedAt   time.Time
	ClaimedAt   time.Time
	CompletedAt time.Time
}

// New creates a Job in queued status with a generated ID.
func New(userID string, input InputRef, platformName string, mode ProcessingMode) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    StatusQueued,
		Platform:  platformName,
		Mode:      mode,
		Input:     input,
		Version:   1,
		RunAfter:  now,
		CreatedAt: now,
	}
}

// Clone returns a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}

// LeaseExpired reports whether the job holds a lapsed lease.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.LeaseOwner != "" && !j.LeaseExpiresAt.IsZero() && now.After(j.LeaseExpiresAt)
}
