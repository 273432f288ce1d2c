package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/order/repository"
	"github.com/Nobert1/event-driven-systems/platform/bus"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/observability"
	"github.com/Nobert1/event-driven-systems/platform/retry"
)

var (
	ErrOrderAlreadyCheckedOut = errors.New("order already checked out")
	ErrEmptyOrder             = errors.New("order has no items")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	// ErrVersionConflict is returned when an order kept changing under a
	// read-modify-write for every allowed attempt.
	ErrVersionConflict      = errors.New("order version conflict")
	ErrItemNotFound         = errors.New("item not found")
	ErrInventoryUnavailable = errors.New("inventory unavailable")
)

// Leg names one side of the saga.
type Leg string

const (
	LegPayment Leg = "payment"
	LegStock   Leg = "stock"
)

var conflictPolicy = retry.Policy{MaxAttempts: 5, BackoffBase: 10 * time.Millisecond}

// indexPolicy is wider than conflictPolicy: every checkout writes the same
// pending index key.
var indexPolicy = retry.Policy{MaxAttempts: 10, BackoffBase: 5 * time.Millisecond}

// DefaultPublishPolicy bounds the attempts at handing one request to the bus.
var DefaultPublishPolicy = retry.Policy{MaxAttempts: 3, BackoffBase: 100 * time.Millisecond}

// OrderService owns the order aggregate and starts its checkout saga.
type OrderService struct {
	logger        *zap.Logger
	repo          repository.OrderRepository
	inventory     InventoryClient
	pub           bus.Publisher
	publishPolicy retry.Policy
	now           func() time.Time
}

// Option tunes an OrderService.
type Option func(*OrderService)

// WithPublishPolicy sets how often a reservation or release publish is
// attempted before the call gives up with the bus error.
func WithPublishPolicy(p retry.Policy) Option {
	return func(s *OrderService) { s.publishPolicy = p }
}

func NewOrderService(logger *zap.Logger, repo repository.OrderRepository, inventory InventoryClient, pub bus.Publisher, opts ...Option) *OrderService {
	s := &OrderService{
		logger:        logger,
		repo:          repo,
		inventory:     inventory,
		pub:           pub,
		publishPolicy: DefaultPublishPolicy,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens an empty order for userID.
func (s *OrderService) Create(ctx context.Context, userID string) (string, error) {
	o := repository.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		Items:         []repository.Line{},
		PaymentStatus: repository.StatusPending,
		StockStatus:   repository.StatusPending,
	}
	if _, err := s.repo.Create(ctx, o); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	observability.L(ctx, s.logger).Info("order created", zap.String("order_id", o.ID), zap.String("user_id", userID))
	return o.ID, nil
}

func (s *OrderService) Find(ctx context.Context, orderID string) (repository.Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return repository.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// AddItem appends a line priced by the inventory service.
func (s *OrderService) AddItem(ctx context.Context, orderID, itemID string, quantity int64) (repository.Order, error) {
	if quantity <= 0 {
		return repository.Order{}, ErrInvalidQuantity
	}
	o, err := s.Find(ctx, orderID)
	if err != nil {
		return repository.Order{}, err
	}
	if o.Checkout.Started {
		return repository.Order{}, ErrOrderAlreadyCheckedOut
	}

	price, err := s.inventory.ItemPrice(ctx, itemID)
	if err != nil {
		return repository.Order{}, fmt.Errorf("price item %s: %w", itemID, err)
	}
	if price > 0 && quantity > math.MaxInt64/price {
		return repository.Order{}, ErrInvalidQuantity
	}
	cost := price * quantity

	o, err = s.mutate(ctx, orderID, func(o *repository.Order) (bool, error) {
		if o.Checkout.Started {
			return false, ErrOrderAlreadyCheckedOut
		}
		if o.TotalCost > math.MaxInt64-cost {
			return false, ErrInvalidQuantity
		}
		o.Items = append(o.Items, repository.Line{ItemID: itemID, Quantity: quantity, UnitPrice: price})
		o.TotalCost += cost
		return true, nil
	})
	if err != nil {
		return repository.Order{}, err
	}
	observability.L(ctx, s.logger).Info("item added",
		zap.String("order_id", orderID), zap.String("item_id", itemID),
		zap.Int64("quantity", quantity), zap.Int64("total_cost", o.TotalCost))
	return o, nil
}

// Checkout freezes the order and requests both reservations. Each request is
// marked on the order once the bus accepted it, so a retried checkout only
// publishes what is still missing. A fully requested order is returned as is.
//
// The order goes on the pending checkout index before it is frozen and comes
// off once both requests are marked. If the bus stays down past the publish
// policy the entry remains and ResumeCheckout finishes the job later.
func (s *OrderService) Checkout(ctx context.Context, orderID string) (repository.Order, error) {
	o, err := s.Find(ctx, orderID)
	if err != nil {
		return repository.Order{}, err
	}
	if !o.Checkout.Started {
		if len(o.Items) == 0 {
			return repository.Order{}, ErrEmptyOrder
		}
		if err := s.updateIndex(ctx, orderID, func(ctx context.Context) error {
			return s.repo.AddPendingCheckout(ctx, orderID, s.now())
		}); err != nil {
			return repository.Order{}, fmt.Errorf("index checkout: %w", err)
		}
		o, err = s.mutate(ctx, orderID, func(o *repository.Order) (bool, error) {
			if o.Checkout.Started {
				return false, nil
			}
			if len(o.Items) == 0 {
				return false, ErrEmptyOrder
			}
			o.Checkout = repository.Checkout{Started: true, StartedAt: s.now()}
			return true, nil
		})
		if err != nil {
			return repository.Order{}, err
		}
	}
	return s.requestReservations(ctx, o)
}

// ResumeCheckout publishes whatever reservation request a started checkout
// still misses. An index entry whose order is gone or was never started is
// dropped.
func (s *OrderService) ResumeCheckout(ctx context.Context, orderID string) (repository.Order, error) {
	o, err := s.Find(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		if rmErr := s.unindex(ctx, orderID); rmErr != nil {
			return repository.Order{}, rmErr
		}
		return repository.Order{}, err
	}
	if err != nil {
		return repository.Order{}, err
	}
	if !o.Checkout.Started {
		return o, s.unindex(ctx, orderID)
	}
	return s.requestReservations(ctx, o)
}

// PendingCheckouts lists checkouts that may still miss a reservation request.
func (s *OrderService) PendingCheckouts(ctx context.Context, limit int) ([]repository.PendingCheckout, error) {
	pending, err := s.repo.PendingCheckouts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending checkouts: %w", err)
	}
	return pending, nil
}

func (s *OrderService) requestReservations(ctx context.Context, o repository.Order) (repository.Order, error) {
	log := observability.L(ctx, s.logger).With(zap.String("order_id", o.ID))
	var err error

	if !o.Checkout.PaymentRequested {
		req := event.ReservePayment{OrderID: o.ID, UserID: o.UserID, Amount: o.TotalCost}
		if err := s.publish(ctx, req); err != nil {
			return repository.Order{}, fmt.Errorf("request payment: %w", err)
		}
		o, err = s.mutate(ctx, o.ID, func(o *repository.Order) (bool, error) {
			if o.Checkout.PaymentRequested {
				return false, nil
			}
			o.Checkout.PaymentRequested = true
			return true, nil
		})
		if err != nil {
			return repository.Order{}, err
		}
		log.Info("payment reservation requested", zap.Int64("amount", req.Amount))
	}

	if !o.Checkout.StockRequested {
		req := event.ReserveStock{OrderID: o.ID, Items: o.LineItems()}
		if err := s.publish(ctx, req); err != nil {
			return repository.Order{}, fmt.Errorf("request stock: %w", err)
		}
		o, err = s.mutate(ctx, o.ID, func(o *repository.Order) (bool, error) {
			if o.Checkout.StockRequested {
				return false, nil
			}
			o.Checkout.StockRequested = true
			return true, nil
		})
		if err != nil {
			return repository.Order{}, err
		}
		log.Info("stock reservation requested", zap.Int("lines", len(req.Items)))
	}

	if err := s.unindex(ctx, o.ID); err != nil {
		// both requests are out; a stale entry is dropped by the next resume
		log.Warn("pending checkout not cleared", zap.Error(err))
	}
	return o, nil
}

// RecordOutcome moves leg out of pending. A leg that already left pending is
// never changed again, so late or repeated outcomes are harmless. When the
// order becomes rejected while the other leg was approved, the owed release
// is recorded on the order in the same write. changed reports whether
// anything was written.
func (s *OrderService) RecordOutcome(ctx context.Context, orderID string, leg Leg, approved bool) (o repository.Order, changed bool, err error) {
	log := observability.L(ctx, s.logger).With(zap.String("order_id", orderID), zap.String("leg", string(leg)))
	next := repository.StatusRejected
	if approved {
		next = repository.StatusApproved
	}

	o, err = s.mutate(ctx, orderID, func(o *repository.Order) (bool, error) {
		changed = false
		status := &o.PaymentStatus
		if leg == LegStock {
			status = &o.StockStatus
		}
		if *status != repository.StatusPending {
			if *status != next {
				log.Warn("conflicting outcome ignored", zap.String("current", string(*status)), zap.String("received", string(next)))
			}
			return false, nil
		}
		*status = next

		if o.State() == repository.StateRejected && o.Compensation == nil {
			switch {
			case o.PaymentStatus == repository.StatusApproved:
				o.Compensation = &repository.Compensation{Kind: event.KindReleasePayment}
			case o.StockStatus == repository.StatusApproved:
				o.Compensation = &repository.Compensation{Kind: event.KindReleaseStock}
			}
		}
		changed = true
		return true, nil
	})
	if err != nil {
		return repository.Order{}, false, err
	}
	if changed {
		log.Info("outcome recorded", zap.String("status", string(next)), zap.String("state", string(o.State())))
	}
	return o, changed, nil
}

// Compensate publishes the release owed by o, if any is still outstanding,
// and marks it issued.
func (s *OrderService) Compensate(ctx context.Context, o repository.Order) (repository.Order, error) {
	if o.Compensation == nil || o.Compensation.Issued {
		return o, nil
	}

	var release event.Event
	switch o.Compensation.Kind {
	case event.KindReleasePayment:
		release = event.ReleasePayment{OrderID: o.ID, UserID: o.UserID, Amount: o.TotalCost}
	case event.KindReleaseStock:
		release = event.ReleaseStock{OrderID: o.ID, Items: o.LineItems()}
	default:
		return repository.Order{}, fmt.Errorf("unknown compensation kind %q", o.Compensation.Kind)
	}
	if err := s.publish(ctx, release); err != nil {
		return repository.Order{}, fmt.Errorf("publish %s: %w", release.Kind(), err)
	}

	o, err := s.mutate(ctx, o.ID, func(o *repository.Order) (bool, error) {
		if o.Compensation == nil || o.Compensation.Issued {
			return false, nil
		}
		o.Compensation.Issued = true
		return true, nil
	})
	if err != nil {
		return repository.Order{}, err
	}
	observability.L(ctx, s.logger).Info("compensation issued",
		zap.String("order_id", o.ID), zap.String("kind", string(release.Kind())))
	return o, nil
}

// BatchInit overwrites orders "0".."n-1", each with two random items of
// quantity one, for random users out of nUsers.
func (s *OrderService) BatchInit(ctx context.Context, n, nItems, nUsers int, itemPrice int64) error {
	if n < 0 || itemPrice < 0 || (n > 0 && (nItems <= 0 || nUsers <= 0)) {
		return ErrInvalidQuantity
	}
	for i := 0; i < n; i++ {
		o := repository.Order{
			ID:     strconv.Itoa(i),
			UserID: strconv.Itoa(rand.IntN(nUsers)),
			Items: []repository.Line{
				{ItemID: strconv.Itoa(rand.IntN(nItems)), Quantity: 1, UnitPrice: itemPrice},
				{ItemID: strconv.Itoa(rand.IntN(nItems)), Quantity: 1, UnitPrice: itemPrice},
			},
			TotalCost:     2 * itemPrice,
			PaymentStatus: repository.StatusPending,
			StockStatus:   repository.StatusPending,
		}
		if err := s.repo.Put(ctx, o); err != nil {
			return fmt.Errorf("seed order %d: %w", i, err)
		}
	}
	observability.L(ctx, s.logger).Info("orders seeded", zap.Int("n", n), zap.Int("n_items", nItems), zap.Int("n_users", nUsers))
	return nil
}

// publish hands e to the bus, retrying while the bus reports itself
// unavailable. The last bus error is returned once the policy is spent.
func (s *OrderService) publish(ctx context.Context, e event.Event) error {
	return retry.Do(ctx, s.publishPolicy,
		func(err error) bool { return errors.Is(err, bus.ErrUnavailable) },
		func(attempt int, backoff time.Duration, err error) {
			observability.L(ctx, s.logger).Warn("publish failed, retrying",
				zap.String("kind", string(e.Kind())), zap.String("order_id", e.CorrelationID()),
				zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		},
		func(ctx context.Context) error { return bus.PublishEvent(ctx, s.pub, e) },
	)
}

func (s *OrderService) unindex(ctx context.Context, orderID string) error {
	err := s.updateIndex(ctx, orderID, func(ctx context.Context) error {
		return s.repo.RemovePendingCheckout(ctx, orderID)
	})
	if err != nil {
		return fmt.Errorf("clear pending checkout: %w", err)
	}
	return nil
}

// updateIndex runs a pending index write, retrying lost races on the index key.
func (s *OrderService) updateIndex(ctx context.Context, orderID string, write func(ctx context.Context) error) error {
	return retry.Do(ctx, indexPolicy,
		func(err error) bool { return errors.Is(err, repository.ErrConflict) },
		func(attempt int, _ time.Duration, _ error) {
			s.logger.Debug("pending checkout index conflict, retrying", zap.String("order_id", orderID), zap.Int("attempt", attempt))
		},
		write,
	)
}

// mutate applies fn to the current order and writes it back conditionally.
// fn returns false to skip the write; the current order is returned either way.
func (s *OrderService) mutate(ctx context.Context, orderID string, fn func(o *repository.Order) (bool, error)) (repository.Order, error) {
	var out repository.Order
	err := retry.Do(ctx, conflictPolicy,
		func(err error) bool { return errors.Is(err, repository.ErrConflict) },
		func(attempt int, _ time.Duration, _ error) {
			s.logger.Debug("order update conflict, retrying", zap.String("order_id", orderID), zap.Int("attempt", attempt))
		},
		func(ctx context.Context) error {
			o, err := s.repo.Get(ctx, orderID)
			if err != nil {
				return fmt.Errorf("get order: %w", err)
			}
			changed, err := fn(&o)
			if err != nil {
				return err
			}
			if !changed {
				out = o
				return nil
			}
			if out, err = s.repo.Update(ctx, o); err != nil {
				return fmt.Errorf("update order: %w", err)
			}
			return nil
		},
	)
	if errors.Is(err, repository.ErrConflict) {
		return repository.Order{}, fmt.Errorf("%w: %s", ErrVersionConflict, orderID)
	}
	if err != nil {
		return repository.Order{}, err
	}
	return out, nil
}
