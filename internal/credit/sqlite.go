package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

// Compile-time check that SQLiteLedger implements Ledger.
var _ Ledger = (*SQLiteLedger)(nil)

// SQLiteLedger is the durable implementation of Ledger. Reservation state
// changes run in transactions; the reserve/commit/release protocol rather
// than row locking protects the per-user balance, tolerating concurrent
// jobs for the same user.
type SQLiteLedger struct {
	db *sql.DB
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS balances (
	user_id TEXT PRIMARY KEY,
	amount  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS reservations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	amount     INTEGER NOT NULL,
	state      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations(user_id, state);
`

// NewSQLiteLedger opens (or creates) the ledger database at the given path.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("credit: open database: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("credit: initialize schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Grant adds settled credits to a user's balance.
func (l *SQLiteLedger) Grant(ctx context.Context, userID string, amount int) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO balances (user_id, amount) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET amount = amount + excluded.amount`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("credit: grant: %w", err)
	}
	return nil
}

// Balance returns the user's settled balance minus open reservations.
func (l *SQLiteLedger) Balance(ctx context.Context, userID string) (int, error) {
	return l.availableBalance(ctx, l.db, userID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *SQLiteLedger) availableBalance(ctx context.Context, q queryRower, userID string) (int, error) {
	var settled int
	err := q.QueryRowContext(ctx, `SELECT amount FROM balances WHERE user_id = ?`, userID).Scan(&settled)
	if errors.Is(err, sql.ErrNoRows) {
		settled = 0
	} else if err != nil {
		return 0, fmt.Errorf("credit: read balance: %w", err)
	}

	var held int
	err = q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM reservations
		WHERE user_id = ? AND state = ?`,
		userID, string(StateReserved),
	).Scan(&held)
	if err != nil {
		return 0, fmt.Errorf("credit: read holds: %w", err)
	}

	return settled - held, nil
}

// Reserve places a hold on the user's balance.
func (l *SQLiteLedger) Reserve(ctx context.Context, userID string, amount int) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("credit: begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	available, err := l.availableBalance(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	if available < amount {
		return "", ErrInsufficientCredits
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, user_id, amount, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, amount, string(StateReserved), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("credit: insert reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("credit: commit reserve: %w", err)
	}
	return id, nil
}

// Commit converts a reservation into a charge. Idempotent.
func (l *SQLiteLedger) Commit(ctx context.Context, reservationID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credit: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := getReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	switch r.State {
	case StateCommitted:
		return nil
	case StateReleased:
		return ErrReservationReleased
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(StateCommitted), now, reservationID, string(StateReserved),
	); err != nil {
		return fmt.Errorf("credit: commit reservation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE balances SET amount = amount - ? WHERE user_id = ?`,
		r.Amount, r.UserID,
	); err != nil {
		return fmt.Errorf("credit: settle charge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credit: commit: %w", err)
	}
	return nil
}

// Release returns a held amount to the balance. Idempotent; no-op when the
// reservation was already committed.
func (l *SQLiteLedger) Release(ctx context.Context, reservationID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credit: begin release: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := getReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if r.State != StateReserved {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(StateReleased), now, reservationID, string(StateReserved),
	); err != nil {
		return fmt.Errorf("credit: release reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credit: commit release: %w", err)
	}
	return nil
}

// Get returns the reservation for inspection.
func (l *SQLiteLedger) Get(ctx context.Context, reservationID string) (*Reservation, error) {
	return getReservation(ctx, l.db, reservationID)
}

func getReservation(ctx context.Context, q queryRower, id string) (*Reservation, error) {
	var r Reservation
	var state string
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, amount, state FROM reservations WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &r.Amount, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credit: read reservation: %w", err)
	}
	r.State = State(state)
	return &r, nil
}
