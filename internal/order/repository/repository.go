package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Nobert1/event-driven-systems/platform/event"
)

var (
	// ErrOrderNotFound is returned for an absent order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrConflict means the order changed since it was read, or already exists on create.
	ErrConflict = errors.New("conflict")
)

// Status is the state of one saga leg. It only ever leaves pending once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// State is derived from the checkout flags and both leg statuses.
type State string

const (
	StateCreated    State = "created"
	StateCheckedOut State = "checked_out"
	StateConfirmed  State = "confirmed"
	StateRejected   State = "rejected"
)

type Line struct {
	ItemID    string `json:"item_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Checkout records the intent and which reservation requests were accepted by the bus.
type Checkout struct {
	Started          bool      `json:"started"`
	PaymentRequested bool      `json:"payment_requested"`
	StockRequested   bool      `json:"stock_requested"`
	StartedAt        time.Time `json:"started_at,omitempty"`
}

// Compensation is the release owed by a rejected order whose other leg was approved.
type Compensation struct {
	Kind   event.Kind `json:"kind"`
	Issued bool       `json:"issued"`
}

type Order struct {
	ID            string        `json:"order_id"`
	UserID        string        `json:"user_id"`
	Items         []Line        `json:"items"`
	TotalCost     int64         `json:"total_cost"`
	PaymentStatus Status        `json:"payment_status"`
	StockStatus   Status        `json:"stock_status"`
	Checkout      Checkout      `json:"checkout"`
	Compensation  *Compensation `json:"compensation,omitempty"`

	// Version is the store version the order was read at. Not serialized.
	Version int64 `json:"-"`
}

// State folds the flags into the order lifecycle.
func (o Order) State() State {
	switch {
	case !o.Checkout.Started:
		return StateCreated
	case o.PaymentStatus == StatusApproved && o.StockStatus == StatusApproved:
		return StateConfirmed
	case o.PaymentStatus == StatusRejected && o.StockStatus != StatusPending,
		o.StockStatus == StatusRejected && o.PaymentStatus != StatusPending:
		return StateRejected
	}
	return StateCheckedOut
}

// PendingCheckout is an order whose checkout started while at least one
// reservation request was not yet accepted by the bus.
type PendingCheckout struct {
	OrderID string    `json:"order_id"`
	Since   time.Time `json:"since"`
}

// LineItems is the frozen item list sent with ReserveStock and ReleaseStock.
func (o Order) LineItems() []event.LineItem {
	items := make([]event.LineItem, 0, len(o.Items))
	for _, l := range o.Items {
		items = append(items, event.LineItem{ItemID: l.ItemID, Quantity: l.Quantity})
	}
	return items
}

//go:generate go run github.com/vektra/mockery/v2 --name=OrderRepository --dir=. --output=./mocks --outpkg=mocks

// OrderRepository persists orders with optimistic versioning.
type OrderRepository interface {
	// Get returns the order with Version set, or ErrOrderNotFound.
	Get(ctx context.Context, orderID string) (Order, error)
	// Create stores a new order; ErrConflict if the id is taken.
	Create(ctx context.Context, order Order) (Order, error)
	// Put overwrites order unconditionally. Used only for seeding.
	Put(ctx context.Context, order Order) error
	// Update writes order if the stored version still equals order.Version
	// and returns it with the new version; ErrConflict otherwise.
	Update(ctx context.Context, order Order) (Order, error)

	// AddPendingCheckout puts orderID on the pending checkout index. An id
	// already on it keeps its first Since. ErrConflict if the index changed
	// concurrently.
	AddPendingCheckout(ctx context.Context, orderID string, since time.Time) error
	// RemovePendingCheckout takes orderID off the index. Absent ids are a
	// no-op. ErrConflict if the index changed concurrently.
	RemovePendingCheckout(ctx context.Context, orderID string) error
	// PendingCheckouts lists at most limit entries, oldest first.
	PendingCheckouts(ctx context.Context, limit int) ([]PendingCheckout, error)
}
