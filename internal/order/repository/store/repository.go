package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Nobert1/event-driven-systems/internal/order/repository"
	"github.com/Nobert1/event-driven-systems/platform/kv"
)

func orderKey(orderID string) string { return fmt.Sprintf("order:%s", orderID) }

// pendingKey holds the pending checkout index as one JSON object of
// order id to the time the checkout started.
const pendingKey = "checkout:pending"

// Repository implements repository.OrderRepository on any kv.Store. The
// store version doubles as the order version.
type Repository struct {
	store kv.Store
}

func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) Get(ctx context.Context, orderID string) (repository.Order, error) {
	o, version, err := kv.GetJSON[repository.Order](ctx, r.store, orderKey(orderID))
	if err != nil {
		return repository.Order{}, mapErr(err)
	}
	o.Version = version
	return o, nil
}

func (r *Repository) Create(ctx context.Context, o repository.Order) (repository.Order, error) {
	version, err := kv.CompareAndSetJSON(ctx, r.store, orderKey(o.ID), 0, o)
	if err != nil {
		return repository.Order{}, mapErr(err)
	}
	o.Version = version
	return o, nil
}

func (r *Repository) Put(ctx context.Context, o repository.Order) error {
	_, err := kv.SetJSON(ctx, r.store, orderKey(o.ID), o)
	return mapErr(err)
}

func (r *Repository) Update(ctx context.Context, o repository.Order) (repository.Order, error) {
	version, err := kv.CompareAndSetJSON(ctx, r.store, orderKey(o.ID), o.Version, o)
	if err != nil {
		return repository.Order{}, mapErr(err)
	}
	o.Version = version
	return o, nil
}

func (r *Repository) AddPendingCheckout(ctx context.Context, orderID string, since time.Time) error {
	return r.updatePending(ctx, func(pending map[string]time.Time) bool {
		if _, ok := pending[orderID]; ok {
			return false
		}
		pending[orderID] = since
		return true
	})
}

func (r *Repository) RemovePendingCheckout(ctx context.Context, orderID string) error {
	return r.updatePending(ctx, func(pending map[string]time.Time) bool {
		if _, ok := pending[orderID]; !ok {
			return false
		}
		delete(pending, orderID)
		return true
	})
}

func (r *Repository) PendingCheckouts(ctx context.Context, limit int) ([]repository.PendingCheckout, error) {
	pending, _, err := r.pending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]repository.PendingCheckout, 0, len(pending))
	for id, since := range pending {
		out = append(out, repository.PendingCheckout{OrderID: id, Since: since})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Since.Before(out[j].Since)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// pending reads the index. A missing key is an empty index at version 0.
func (r *Repository) pending(ctx context.Context) (map[string]time.Time, int64, error) {
	pending, version, err := kv.GetJSON[map[string]time.Time](ctx, r.store, pendingKey)
	if errors.Is(err, kv.ErrNotFound) {
		return map[string]time.Time{}, 0, nil
	}
	if err != nil {
		return nil, 0, mapErr(err)
	}
	if pending == nil {
		pending = map[string]time.Time{}
	}
	return pending, version, nil
}

// updatePending applies fn to the index and writes it back at the version it
// was read. fn returns false when there is nothing to write.
func (r *Repository) updatePending(ctx context.Context, fn func(map[string]time.Time) bool) error {
	pending, version, err := r.pending(ctx)
	if err != nil {
		return err
	}
	if !fn(pending) {
		return nil
	}
	_, err = kv.CompareAndSetJSON(ctx, r.store, pendingKey, version, pending)
	return mapErr(err)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kv.ErrNotFound):
		return repository.ErrOrderNotFound
	case errors.Is(err, kv.ErrConflict):
		return repository.ErrConflict
	}
	return err
}
