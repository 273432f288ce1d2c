package repository

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for an absent account or decision.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the record changed since it was read, or already exists on create.
	ErrConflict = errors.New("conflict")
)

// ReservationStatus is the decision taken for one order against one account.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationRejected ReservationStatus = "rejected"
	ReservationReleased ReservationStatus = "released"
)

// Reservation lives inside the account document so that a debit and its
// decision are committed by the same conditional write.
type Reservation struct {
	Amount    int64             `json:"amount"`
	Status    ReservationStatus `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	DecidedAt time.Time         `json:"decided_at"`
}

// Account is the credit ledger of one user. Credit never drops below zero.
type Account struct {
	UserID       string                 `json:"user_id"`
	Credit       int64                  `json:"credit"`
	Reservations map[string]Reservation `json:"reservations,omitempty"`
}

// Decision is stored per order only when there is no account to hold it.
type Decision struct {
	OrderID   string            `json:"order_id"`
	UserID    string            `json:"user_id"`
	Status    ReservationStatus `json:"status"`
	Reason    string            `json:"reason"`
	DecidedAt time.Time         `json:"decided_at"`
}

//go:generate go run github.com/vektra/mockery/v2 --name=AccountRepository --dir=. --output=./mocks --outpkg=mocks

// AccountRepository persists accounts with optimistic versioning.
type AccountRepository interface {
	// Get returns the account and its version, or ErrNotFound.
	Get(ctx context.Context, userID string) (Account, int64, error)
	// Create stores a new account; ErrConflict if the user id is taken.
	Create(ctx context.Context, acc Account) error
	// Put overwrites acc unconditionally. Used only for seeding.
	Put(ctx context.Context, acc Account) error
	// Update writes acc if it is still at version; ErrConflict otherwise.
	Update(ctx context.Context, acc Account, version int64) error
	// GetDecision returns the standalone decision for orderID, or ErrNotFound.
	GetDecision(ctx context.Context, orderID string) (Decision, error)
	// CreateDecision stores d once; ErrConflict if one exists.
	CreateDecision(ctx context.Context, d Decision) error
}
