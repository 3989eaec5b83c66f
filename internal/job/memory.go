package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It backs tests and single-process development; production uses SQLiteStore.
type MemoryStore struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	maxRetries int
	backoff    time.Duration
}

// NewMemoryStore creates a new in-memory job store. maxRetries bounds
// failed -> queued transitions; backoff is the base inter-retry delay.
func NewMemoryStore(maxRetries int, backoff time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]*Job),
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Create persists a new job.
func (s *MemoryStore) Create(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j.Clone()
	return nil
}

// Get retrieves a job by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// List returns all jobs, newest first.
func (s *MemoryStore) List(_ context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j.Clone())
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].CreatedAt.After(result[b].CreatedAt)
	})
	return result, nil
}

// Claim leases the oldest eligible queued job to owner.
func (s *MemoryStore) Claim(_ context.Context, owner string, leaseDur time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var oldest *Job
	for _, j := range s.jobs {
		if j.Status != StatusQueued || j.RunAfter.After(now) {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, ErrNoJobAvailable
	}

	if err := commitTransition(oldest, StatusClaimed, s.maxRetries, func(j *Job) {
		j.LeaseOwner = owner
		j.LeaseExpiresAt = now.Add(leaseDur)
		j.ClaimedAt = now
	}); err != nil {
		return nil, err
	}

	return oldest.Clone(), nil
}

// Transition moves a job to the given status under the optimistic check.
func (s *MemoryStore) Transition(_ context.Context, id, owner string, fromVersion int64, to Status, mutate func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Version != fromVersion {
		return nil, ErrLeaseLost
	}
	if isLeased(j.Status) && j.LeaseOwner != owner {
		return nil, ErrLeaseLost
	}

	if err := commitTransition(j, to, s.maxRetries, mutate); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// Cancel moves a queued job to canceled.
func (s *MemoryStore) Cancel(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != StatusQueued {
		return nil, ErrNotCancelable
	}
	if err := commitTransition(j, StatusCanceled, s.maxRetries, nil); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// ReapExpired requeues every job whose lease lapsed before now.
func (s *MemoryStore) ReapExpired(_ context.Context, now time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched []*Job
	for _, j := range s.jobs {
		if !isLeased(j.Status) || !j.LeaseExpired(now) {
			continue
		}
		if err := reapOne(j, now, s.maxRetries, s.backoff); err != nil {
			continue
		}
		touched = append(touched, j.Clone())
	}
	return touched, nil
}

// reapOne recovers a single job with an expired lease. A claimed job goes
// straight back to queued; a job that died mid-pipeline passes through
// failed first, so the transition table is honored. Either way retry_count
// increments exactly once. With no retries left the job stays failed.
func reapOne(j *Job, now time.Time, maxRetries int, backoff time.Duration) error {
	if j.Status != StatusClaimed {
		err := commitTransition(j, StatusFailed, maxRetries, func(job *Job) {
			job.ErrorKind = ErrorKindWorkerLost
			job.ErrorMessage = "worker lease expired mid-pipeline"
		})
		if err != nil {
			return err
		}
	}
	if j.RetryCount >= maxRetries {
		if j.Status == StatusClaimed {
			return commitTransition(j, StatusFailed, maxRetries, func(job *Job) {
				job.ErrorKind = ErrorKindWorkerLost
				job.ErrorMessage = "worker lease expired with no retries left"
			})
		}
		return nil
	}
	return commitTransition(j, StatusQueued, maxRetries, func(job *Job) {
		job.RunAfter = now.Add(backoff)
	})
}
