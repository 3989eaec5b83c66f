package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/blanklogo/pipeline/internal/platform"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the durable implementation of Store backed by SQLite in
// WAL mode. Every mutation runs in a transaction with an optimistic
// version check, so concurrent workers cannot corrupt a job record.
type SQLiteStore struct {
	db         *sql.DB
	maxRetries int
	backoff    time.Duration
}

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	status           TEXT NOT NULL,
	platform         TEXT NOT NULL DEFAULT '',
	mode             TEXT NOT NULL,
	crop_pixels      INTEGER NOT NULL DEFAULT 0,
	crop_position    TEXT NOT NULL DEFAULT '',
	input_url        TEXT NOT NULL DEFAULT '',
	upload_path      TEXT NOT NULL DEFAULT '',
	output_ref       TEXT NOT NULL DEFAULT '',
	strategy_used    TEXT NOT NULL DEFAULT '',
	credits_reserved INTEGER NOT NULL DEFAULT 0,
	credits_charged  INTEGER NOT NULL DEFAULT 0,
	reservation_id   TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	lease_owner      TEXT NOT NULL DEFAULT '',
	lease_expires_at TEXT NOT NULL DEFAULT '',
	run_after        TEXT NOT NULL DEFAULT '',
	version          INTEGER NOT NULL DEFAULT 1,
	error_kind       TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	claimed_at       TEXT NOT NULL DEFAULT '',
	completed_at     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs(lease_expires_at);
`

// NewSQLiteStore opens (or creates) the jobs database at the given path.
func NewSQLiteStore(path string, maxRetries int, backoff time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("job: open database: %w", err)
	}
	if _, err := db.Exec(jobsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("job: initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, maxRetries: maxRetries, backoff: backoff}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create persists a new job.
func (s *SQLiteStore) Create(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, user_id, status, platform, mode, crop_pixels, crop_position,
			input_url, upload_path, output_ref, strategy_used,
			credits_reserved, credits_charged, reservation_id,
			retry_count, lease_owner, lease_expires_at, run_after, version,
			error_kind, error_message, created_at, claimed_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, string(j.Status), j.Platform, string(j.Mode),
		j.CropPixels, string(j.CropPosition),
		j.Input.URL, j.Input.UploadPath, j.OutputRef, j.StrategyUsed,
		j.CreditsReserved, j.CreditsCharged, j.ReservationID,
		j.RetryCount, j.LeaseOwner, formatTime(j.LeaseExpiresAt), formatTime(j.RunAfter), j.Version,
		string(j.ErrorKind), j.ErrorMessage,
		formatTime(j.CreatedAt), formatTime(j.ClaimedAt), formatTime(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("job: insert: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, status, platform, mode, crop_pixels, crop_position,
	input_url, upload_path, output_ref, strategy_used,
	credits_reserved, credits_charged, reservation_id,
	retry_count, lease_owner, lease_expires_at, run_after, version,
	error_kind, error_message, created_at, claimed_at, completed_at`

// Get retrieves a job by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List returns all jobs, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// Claim leases the oldest eligible queued job to owner.
func (s *SQLiteStore) Claim(ctx context.Context, owner string, leaseDur time.Duration) (*Job, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("job: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND run_after <= ?
		ORDER BY created_at ASC LIMIT 1`,
		string(StatusQueued), formatTime(now),
	)
	j, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, err
	}

	fromVersion := j.Version
	if err := commitTransition(j, StatusClaimed, s.maxRetries, func(job *Job) {
		job.LeaseOwner = owner
		job.LeaseExpiresAt = now.Add(leaseDur)
		job.ClaimedAt = now
	}); err != nil {
		return nil, err
	}

	if err := updateJob(ctx, tx, j, fromVersion); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("job: commit claim: %w", err)
	}
	return j, nil
}

// Transition moves a job to the given status under the optimistic check.
func (s *SQLiteStore) Transition(ctx context.Context, id, owner string, fromVersion int64, to Status, mutate func(*Job)) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("job: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
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
	if err := updateJob(ctx, tx, j, fromVersion); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("job: commit transition: %w", err)
	}
	return j, nil
}

// Cancel moves a queued job to canceled.
func (s *SQLiteStore) Cancel(ctx context.Context, id string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("job: begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusQueued {
		return nil, ErrNotCancelable
	}

	fromVersion := j.Version
	if err := commitTransition(j, StatusCanceled, s.maxRetries, nil); err != nil {
		return nil, err
	}
	if err := updateJob(ctx, tx, j, fromVersion); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("job: commit cancel: %w", err)
	}
	return j, nil
}

// ReapExpired requeues every job whose lease lapsed before now.
func (s *SQLiteStore) ReapExpired(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN (?, ?, ?, ?) AND lease_owner != '' AND lease_expires_at != '' AND lease_expires_at < ?`,
		string(StatusClaimed), string(StatusRunning), string(StatusUploading), string(StatusFinalizing),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("job: scan expired leases: %w", err)
	}

	var expired []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		expired = append(expired, j)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var touched []*Job
	for _, j := range expired {
		fromVersion := j.Version
		if err := reapOne(j, now, s.maxRetries, s.backoff); err != nil {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return touched, fmt.Errorf("job: begin reap: %w", err)
		}
		if err := updateJob(ctx, tx, j, fromVersion); err != nil {
			// Lost a race with the live worker; skip.
			_ = tx.Rollback()
			continue
		}
		if err := tx.Commit(); err != nil {
			return touched, fmt.Errorf("job: commit reap: %w", err)
		}
		touched = append(touched, j)
	}
	return touched, nil
}

// updateJob writes every mutable field, guarded by the version the row was
// read at. Zero rows affected means another actor got there first.
func updateJob(ctx context.Context, tx *sql.Tx, j *Job, fromVersion int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, crop_pixels = ?, crop_position = ?,
			output_ref = ?, strategy_used = ?,
			credits_reserved = ?, credits_charged = ?, reservation_id = ?,
			retry_count = ?, lease_owner = ?, lease_expires_at = ?, run_after = ?,
			version = ?, error_kind = ?, error_message = ?,
			claimed_at = ?, completed_at = ?
		WHERE id = ? AND version = ?`,
		string(j.Status), j.CropPixels, string(j.CropPosition),
		j.OutputRef, j.StrategyUsed,
		j.CreditsReserved, j.CreditsCharged, j.ReservationID,
		j.RetryCount, j.LeaseOwner, formatTime(j.LeaseExpiresAt), formatTime(j.RunAfter),
		j.Version, string(j.ErrorKind), j.ErrorMessage,
		formatTime(j.ClaimedAt), formatTime(j.CompletedAt),
		j.ID, fromVersion,
	)
	if err != nil {
		return fmt.Errorf("job: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job: rows affected: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                                 Job
		status, mode, cropPos, errKind    string
		inputURL, uploadPath              string
		leaseExp, runAfter                string
		createdAt, claimedAt, completedAt string
	)
	err := row.Scan(
		&j.ID, &j.UserID, &status, &j.Platform, &mode, &j.CropPixels, &cropPos,
		&inputURL, &uploadPath, &j.OutputRef, &j.StrategyUsed,
		&j.CreditsReserved, &j.CreditsCharged, &j.ReservationID,
		&j.RetryCount, &j.LeaseOwner, &leaseExp, &runAfter, &j.Version,
		&errKind, &j.ErrorMessage,
		&createdAt, &claimedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job: scan: %w", err)
	}

	j.Status = Status(status)
	j.Mode = ProcessingMode(mode)
	j.CropPosition = platform.Position(cropPos)
	j.ErrorKind = ErrorKind(errKind)
	j.Input = InputRef{URL: inputURL, UploadPath: uploadPath}
	j.LeaseExpiresAt = parseTime(leaseExp)
	j.RunAfter = parseTime(runAfter)
	j.CreatedAt = parseTime(createdAt)
	j.ClaimedAt = parseTime(claimedAt)
	j.CompletedAt = parseTime(completedAt)
	return &j, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
