package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/inventory/repository"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/observability"
	"github.com/Nobert1/event-driven-systems/platform/retry"
)

var (
	ErrItemNotFound        = errors.New("item not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationNotFound = errors.New("no stock reservation for order")
	// ErrReservationApplying is returned by Release while the forward
	// reservation is still being written. The caller retries later.
	ErrReservationApplying = errors.New("stock reservation still applying")
)

// Outcome is the decision for one reservation request.
type Outcome struct {
	Approved bool
	Reason   string
}

var conflictPolicy = retry.Policy{MaxAttempts: 5, BackoffBase: 10 * time.Millisecond}

// InventoryService owns item stock. A reservation touches several items, and
// each item is its own key, so the per-order record drives the multi-item
// write: it is created as applying, the items are decremented one by one, and
// the record is then closed as reserved. A redelivery resumes from the record.
type InventoryService struct {
	logger *zap.Logger
	repo   repository.ItemRepository
	now    func() time.Time
}

func NewInventoryService(logger *zap.Logger, repo repository.ItemRepository) *InventoryService {
	return &InventoryService{
		logger: logger,
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateItem adds an item with zero stock.
func (s *InventoryService) CreateItem(ctx context.Context, price int64) (string, error) {
	if price < 0 {
		return "", ErrInvalidAmount
	}
	itemID := uuid.NewString()
	if err := s.repo.Create(ctx, repository.Item{ID: itemID, Price: price}); err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	observability.L(ctx, s.logger).Info("item created", zap.String("item_id", itemID), zap.Int64("price", price))
	return itemID, nil
}

func (s *InventoryService) FindItem(ctx context.Context, itemID string) (repository.Item, error) {
	item, _, err := s.repo.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Item{}, ErrItemNotFound
		}
		return repository.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *InventoryService) AddStock(ctx context.Context, itemID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.mutate(ctx, itemID, func(item *repository.Item) (bool, error) {
		item.Stock += amount
		return true, nil
	})
}

// SubtractStock removes stock directly, outside of any saga.
func (s *InventoryService) SubtractStock(ctx context.Context, itemID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.mutate(ctx, itemID, func(item *repository.Item) (bool, error) {
		if item.Stock-amount < 0 {
			return false, ErrInsufficientStock
		}
		item.Stock -= amount
		return true, nil
	})
}

// BatchInit overwrites items "0".."n-1".
func (s *InventoryService) BatchInit(ctx context.Context, n int, startingStock, price int64) error {
	if n < 0 || startingStock < 0 || price < 0 {
		return ErrInvalidAmount
	}
	for i := 0; i < n; i++ {
		item := repository.Item{ID: strconv.Itoa(i), Stock: startingStock, Price: price}
		if err := s.repo.Put(ctx, item); err != nil {
			return fmt.Errorf("seed item %d: %w", i, err)
		}
	}
	observability.L(ctx, s.logger).Info("items seeded",
		zap.Int("n", n), zap.Int64("starting_stock", startingStock), zap.Int64("price", price))
	return nil
}

// Reserve decides the stock reservation for orderID once: either every line
// is decremented or none is.
func (s *InventoryService) Reserve(ctx context.Context, orderID string, items []event.LineItem) (Outcome, error) {
	log := observability.L(ctx, s.logger).With(zap.String("order_id", orderID))
	lines := aggregate(items)
	if len(lines) == 0 {
		return Outcome{}, ErrInvalidAmount
	}

	var out Outcome
	err := retry.Do(ctx, conflictPolicy, isConflict, s.onConflict(orderID), func(ctx context.Context) error {
		res, version, err := s.repo.GetReservation(ctx, orderID)
		switch {
		case err == nil:
			out, err = s.resume(ctx, log, res, version)
			return err
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("get reservation: %w", err)
		}

		reason, err := s.evaluate(ctx, lines)
		if err != nil {
			return err
		}
		res = repository.Reservation{OrderID: orderID, DecidedAt: s.now()}
		if reason != "" {
			res.Status = repository.ReservationRejected
			res.Reason = reason
		} else {
			res.Status = repository.ReservationApplying
			res.Items = lines
		}
		version, err = s.repo.SaveReservation(ctx, res, 0)
		if err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		if reason != "" {
			log.Info("stock reservation rejected", zap.String("reason", reason))
			out = Outcome{Reason: reason}
			return nil
		}
		out, err = s.apply(ctx, log, res, version)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// resume continues from a recorded decision without re-evaluating stock.
func (s *InventoryService) resume(ctx context.Context, log *zap.Logger, res repository.Reservation, version int64) (Outcome, error) {
	log.Info("stock reservation already decided", zap.String("status", string(res.Status)))
	switch res.Status {
	case repository.ReservationApplying:
		return s.apply(ctx, log, res, version)
	case repository.ReservationRejected:
		if err := s.restock(ctx, log, res.OrderID, res.Items); err != nil {
			return Outcome{}, err
		}
		return Outcome{Reason: res.Reason}, nil
	}
	return Outcome{Approved: true}, nil
}

// evaluate returns the rejection reason for lines, or "" when all can be
// served. A missing item outranks a shortfall on another one.
func (s *InventoryService) evaluate(ctx context.Context, lines []event.LineItem) (string, error) {
	short := false
	for _, line := range lines {
		item, _, err := s.repo.Get(ctx, line.ItemID)
		if errors.Is(err, repository.ErrNotFound) {
			return event.ReasonItemNotFound, nil
		}
		if err != nil {
			return "", fmt.Errorf("get item %s: %w", line.ItemID, err)
		}
		if item.Stock-line.Quantity < 0 {
			short = true
		}
	}
	if short {
		return event.ReasonInsufficientStock, nil
	}
	return "", nil
}

// apply decrements every line of an applying reservation. Lines already
// carrying this order's mark are skipped. If stock moved since evaluation the
// reservation flips to rejected and what was taken is put back.
func (s *InventoryService) apply(ctx context.Context, log *zap.Logger, res repository.Reservation, version int64) (Outcome, error) {
	for _, line := range res.Items {
		err := s.mutate(ctx, line.ItemID, func(item *repository.Item) (bool, error) {
			if _, ok := item.Reservations[res.OrderID]; ok {
				return false, nil
			}
			if item.Stock-line.Quantity < 0 {
				return false, ErrInsufficientStock
			}
			item.Stock -= line.Quantity
			item.Reservations[res.OrderID] = repository.ItemReservation{Quantity: line.Quantity}
			return true, nil
		})
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrInsufficientStock):
			return s.abort(ctx, log, res, version, event.ReasonInsufficientStock)
		case errors.Is(err, ErrItemNotFound):
			return s.abort(ctx, log, res, version, event.ReasonItemNotFound)
		}
		return Outcome{}, err
	}

	res.Status = repository.ReservationReserved
	if _, err := s.repo.SaveReservation(ctx, res, version); err != nil {
		return Outcome{}, fmt.Errorf("close reservation: %w", err)
	}
	log.Info("stock reserved", zap.Int("lines", len(res.Items)))
	return Outcome{Approved: true}, nil
}

func (s *InventoryService) abort(ctx context.Context, log *zap.Logger, res repository.Reservation, version int64, reason string) (Outcome, error) {
	res.Status = repository.ReservationRejected
	res.Reason = reason
	if _, err := s.repo.SaveReservation(ctx, res, version); err != nil {
		return Outcome{}, fmt.Errorf("reject reservation: %w", err)
	}
	log.Warn("stock changed during reservation, rolling back", zap.String("reason", reason))
	if err := s.restock(ctx, log, res.OrderID, res.Items); err != nil {
		return Outcome{}, err
	}
	return Outcome{Reason: reason}, nil
}

// Release restocks the lines recorded for orderID. The recorded lines win
// over the requested ones.
func (s *InventoryService) Release(ctx context.Context, orderID string, items []event.LineItem) error {
	log := observability.L(ctx, s.logger).With(zap.String("order_id", orderID))

	return retry.Do(ctx, conflictPolicy, isConflict, s.onConflict(orderID), func(ctx context.Context) error {
		res, version, err := s.repo.GetReservation(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("get reservation: %w", err)
		}

		switch res.Status {
		case repository.ReservationApplying:
			return ErrReservationApplying
		case repository.ReservationRejected:
			log.Info("release of rejected reservation is a no-op")
			return s.restock(ctx, log, orderID, res.Items)
		case repository.ReservationReleased:
			log.Info("stock already released")
			return nil
		}

		if !slices.Equal(aggregate(items), res.Items) {
			log.Warn("release lines differ from reservation, using reserved lines",
				zap.Any("reserved", res.Items), zap.Any("requested", items))
		}
		if err := s.restock(ctx, log, orderID, res.Items); err != nil {
			return err
		}
		res.Status = repository.ReservationReleased
		if _, err := s.repo.SaveReservation(ctx, res, version); err != nil {
			return fmt.Errorf("close reservation: %w", err)
		}
		log.Info("stock released", zap.Int("lines", len(res.Items)))
		return nil
	})
}

// restock returns this order's decrement on every line that still holds one.
func (s *InventoryService) restock(ctx context.Context, log *zap.Logger, orderID string, lines []event.LineItem) error {
	for _, line := range lines {
		err := s.mutate(ctx, line.ItemID, func(item *repository.Item) (bool, error) {
			r, ok := item.Reservations[orderID]
			if !ok || r.Released {
				return false, nil
			}
			item.Stock += r.Quantity
			r.Released = true
			item.Reservations[orderID] = r
			return true, nil
		})
		if errors.Is(err, ErrItemNotFound) {
			log.Warn("item vanished before restock", zap.String("item_id", line.ItemID))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// mutate applies fn to the current item and writes it back conditionally,
// retrying on conflict. fn returns false to skip the write.
func (s *InventoryService) mutate(ctx context.Context, itemID string, fn func(item *repository.Item) (bool, error)) error {
	return retry.Do(ctx, conflictPolicy, isConflict,
		func(attempt int, _ time.Duration, _ error) {
			s.logger.Debug("item update conflict, retrying", zap.String("item_id", itemID), zap.Int("attempt", attempt))
		},
		func(ctx context.Context) error {
			item, version, err := s.repo.Get(ctx, itemID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrItemNotFound
				}
				return fmt.Errorf("get item: %w", err)
			}
			if item.Reservations == nil {
				item.Reservations = make(map[string]repository.ItemReservation)
			}

			changed, err := fn(&item)
			if err != nil || !changed {
				return err
			}
			if err := s.repo.Update(ctx, item, version); err != nil {
				return fmt.Errorf("update item: %w", err)
			}
			return nil
		},
	)
}

func (s *InventoryService) onConflict(orderID string) func(int, time.Duration, error) {
	return func(attempt int, _ time.Duration, _ error) {
		s.logger.Debug("reservation record conflict, retrying", zap.String("order_id", orderID), zap.Int("attempt", attempt))
	}
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict)
}

// aggregate sums duplicate item ids and sorts by id so that every instance
// walks the items in the same order.
func aggregate(items []event.LineItem) []event.LineItem {
	totals := make(map[string]int64, len(items))
	for _, it := range items {
		totals[it.ItemID] += it.Quantity
	}
	lines := make([]event.LineItem, 0, len(totals))
	for id, q := range totals {
		lines = append(lines, event.LineItem{ItemID: id, Quantity: q})
	}
	slices.SortFunc(lines, func(a, b event.LineItem) int {
		return cmp.Compare(a.ItemID, b.ItemID)
	})
	return lines
}
