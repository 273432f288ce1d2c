package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Nobert1/event-driven-systems/platform/event"
)

var (
	// ErrNotFound is returned for an absent item or reservation record.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the record changed since it was read, or already exists on create.
	ErrConflict = errors.New("conflict")
)

// ItemReservation is the per-item trace of one order's decrement. It is
// written in the same conditional write as the stock change.
type ItemReservation struct {
	Quantity int64 `json:"quantity"`
	Released bool  `json:"released,omitempty"`
}

// Item is one stock keeping unit. Stock never drops below zero.
type Item struct {
	ID           string                     `json:"item_id"`
	Stock        int64                      `json:"stock"`
	Price        int64                      `json:"price"`
	Reservations map[string]ItemReservation `json:"reservations,omitempty"`
}

// ReservationStatus is the lifecycle of one order's stock reservation.
type ReservationStatus string

const (
	// ReservationApplying means the decision was approve and per-item
	// decrements may be partially written.
	ReservationApplying ReservationStatus = "applying"
	ReservationReserved ReservationStatus = "reserved"
	ReservationRejected ReservationStatus = "rejected"
	ReservationReleased ReservationStatus = "released"
)

// Reservation is the decision record for one order, keyed by order id.
// Items is set once decrements start and is what a release restocks.
type Reservation struct {
	OrderID   string            `json:"order_id"`
	Status    ReservationStatus `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Items     []event.LineItem  `json:"items,omitempty"`
	DecidedAt time.Time         `json:"decided_at"`
}

//go:generate go run github.com/vektra/mockery/v2 --name=ItemRepository --dir=. --output=./mocks --outpkg=mocks

// ItemRepository persists items and reservation records with optimistic versioning.
type ItemRepository interface {
	// Get returns the item and its version, or ErrNotFound.
	Get(ctx context.Context, itemID string) (Item, int64, error)
	// Create stores a new item; ErrConflict if the id is taken.
	Create(ctx context.Context, item Item) error
	// Put overwrites item unconditionally. Used only for seeding.
	Put(ctx context.Context, item Item) error
	// Update writes item if it is still at version; ErrConflict otherwise.
	Update(ctx context.Context, item Item, version int64) error
	// GetReservation returns the record for orderID and its version, or ErrNotFound.
	GetReservation(ctx context.Context, orderID string) (Reservation, int64, error)
	// SaveReservation writes res if it is still at version and returns the new
	// version. Version 0 creates it.
	SaveReservation(ctx context.Context, res Reservation, version int64) (int64, error)
}
