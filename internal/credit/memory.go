package credit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Compile-time check that MemoryLedger implements Ledger.
var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger is an in-memory implementation of Ledger for tests and
// single-process development.
type MemoryLedger struct {
	mu           sync.Mutex
	balances     map[string]int
	reservations map[string]*Reservation
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:     make(map[string]int),
		reservations: make(map[string]*Reservation),
	}
}

// Grant adds settled credits to a user's balance.
func (l *MemoryLedger) Grant(userID string, amount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
}

// Balance returns the user's settled balance minus open reservations.
func (l *MemoryLedger) Balance(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(userID), nil
}

func (l *MemoryLedger) availableLocked(userID string) int {
	available := l.balances[userID]
	for _, r := range l.reservations {
		if r.UserID == userID && r.State == StateReserved {
			available -= r.Amount
		}
	}
	return available
}

// Reserve places a hold on the user's balance.
func (l *MemoryLedger) Reserve(_ context.Context, userID string, amount int) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.availableLocked(userID) < amount {
		return "", ErrInsufficientCredits
	}

	r := &Reservation{
		ID:     uuid.NewString(),
		UserID: userID,
		Amount: amount,
		State:  StateReserved,
	}
	l.reservations[r.ID] = r
	return r.ID, nil
}

// Commit converts a reservation into a charge. Idempotent.
func (l *MemoryLedger) Commit(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return ErrReservationNotFound
	}
	switch r.State {
	case StateCommitted:
		return nil
	case StateReleased:
		return ErrReservationReleased
	}

	r.State = StateCommitted
	l.balances[r.UserID] -= r.Amount
	return nil
}

// Release returns a held amount to the balance. Idempotent; no-op when the
// reservation was already committed.
func (l *MemoryLedger) Release(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return ErrReservationNotFound
	}
	if r.State != StateReserved {
		return nil
	}
	r.State = StateReleased
	return nil
}

// Get returns a copy of the reservation.
func (l *MemoryLedger) Get(_ context.Context, reservationID string) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	c := *r
	return &c, nil
}
