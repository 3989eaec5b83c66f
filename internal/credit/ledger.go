// Package credit provides the credit ledger: the reserve/commit/release
// protocol that keeps a user's balance in lockstep with job outcome.
// Commit and Release are idempotent, keyed on reservation ID, so a crashed
// worker replaying its finalization step can never double-charge or leak
// a reservation.
package credit

import (
	"context"
	"errors"
)

// Ledger errors.
var (
	// ErrInsufficientCredits is returned when a reservation would exceed
	// the user's available balance.
	ErrInsufficientCredits = errors.New("credit: insufficient credits")
	// ErrReservationNotFound is returned when no reservation exists for
	// the given ID.
	ErrReservationNotFound = errors.New("credit: reservation not found")
	// ErrReservationReleased is returned when Commit is called on a
	// reservation that was already released.
	ErrReservationReleased = errors.New("credit: reservation already released")
	// ErrInvalidAmount is returned when a non-positive amount is reserved.
	ErrInvalidAmount = errors.New("credit: amount must be positive")
)

// State is the lifecycle position of a reservation.
type State string

const (
	// StateReserved means the amount is held pending job outcome.
	StateReserved State = "reserved"
	// StateCommitted means the amount was charged on success.
	StateCommitted State = "committed"
	// StateReleased means the hold was returned to the balance.
	StateReleased State = "released"
)

// Reservation is a provisional hold on a user's credit balance.
type Reservation struct {
	ID     string
	UserID string
	Amount int
	State  State
}

// Ledger owns all reservation state changes. The Job Store only records
// the resulting amounts.
type Ledger interface {
	// Balance returns the user's settled balance minus open reservations.
	Balance(ctx context.Context, userID string) (int, error)

	// Reserve places a hold on the user's balance and returns the
	// reservation ID. Fails with ErrInsufficientCredits when the available
	// balance cannot cover the amount.
	Reserve(ctx context.Context, userID string, amount int) (string, error)

	// Commit converts a reservation into a charge. Idempotent: committing
	// twice has the same effect as once. Committing a released reservation
	// returns ErrReservationReleased.
	Commit(ctx context.Context, reservationID string) error

	// Release returns a held amount to the balance. Idempotent, and a
	// no-op on an already-committed reservation: a late failure signal
	// racing an already-successful completion must not claw back the charge.
	Release(ctx context.Context, reservationID string) error

	// Get returns the reservation for inspection.
	Get(ctx context.Context, reservationID string) (*Reservation, error)
}
