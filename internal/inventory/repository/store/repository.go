package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nobert1/event-driven-systems/internal/inventory/repository"
	"github.com/Nobert1/event-driven-systems/platform/kv"
)

func itemKey(itemID string) string         { return fmt.Sprintf("item:%s", itemID) }
func reservationKey(orderID string) string { return fmt.Sprintf("stock-reservation:%s", orderID) }

// Repository implements repository.ItemRepository on any kv.Store.
type Repository struct {
	store kv.Store
}

func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) Get(ctx context.Context, itemID string) (repository.Item, int64, error) {
	item, version, err := kv.GetJSON[repository.Item](ctx, r.store, itemKey(itemID))
	if err != nil {
		return repository.Item{}, 0, mapErr(err)
	}
	return item, version, nil
}

func (r *Repository) Create(ctx context.Context, item repository.Item) error {
	_, err := kv.CompareAndSetJSON(ctx, r.store, itemKey(item.ID), 0, item)
	return mapErr(err)
}

func (r *Repository) Put(ctx context.Context, item repository.Item) error {
	_, err := kv.SetJSON(ctx, r.store, itemKey(item.ID), item)
	return mapErr(err)
}

func (r *Repository) Update(ctx context.Context, item repository.Item, version int64) error {
	_, err := kv.CompareAndSetJSON(ctx, r.store, itemKey(item.ID), version, item)
	return mapErr(err)
}

func (r *Repository) GetReservation(ctx context.Context, orderID string) (repository.Reservation, int64, error) {
	res, version, err := kv.GetJSON[repository.Reservation](ctx, r.store, reservationKey(orderID))
	if err != nil {
		return repository.Reservation{}, 0, mapErr(err)
	}
	return res, version, nil
}

func (r *Repository) SaveReservation(ctx context.Context, res repository.Reservation, version int64) (int64, error) {
	next, err := kv.CompareAndSetJSON(ctx, r.store, reservationKey(res.OrderID), version, res)
	if err != nil {
		return 0, mapErr(err)
	}
	return next, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kv.ErrNotFound):
		return repository.ErrNotFound
	case errors.Is(err, kv.ErrConflict):
		return repository.ErrConflict
	}
	return err
}
