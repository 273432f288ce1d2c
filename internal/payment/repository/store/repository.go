package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nobert1/event-driven-systems/internal/payment/repository"
	"github.com/Nobert1/event-driven-systems/platform/kv"
)

func accountKey(userID string) string  { return fmt.Sprintf("account:%s", userID) }
func decisionKey(orderID string) string { return fmt.Sprintf("payment-decision:%s", orderID) }

// Repository implements repository.AccountRepository on any kv.Store.
type Repository struct {
	store kv.Store
}

func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) Get(ctx context.Context, userID string) (repository.Account, int64, error) {
	acc, version, err := kv.GetJSON[repository.Account](ctx, r.store, accountKey(userID))
	if err != nil {
		return repository.Account{}, 0, mapErr(err)
	}
	return acc, version, nil
}

func (r *Repository) Create(ctx context.Context, acc repository.Account) error {
	_, err := kv.CompareAndSetJSON(ctx, r.store, accountKey(acc.UserID), 0, acc)
	return mapErr(err)
}

func (r *Repository) Put(ctx context.Context, acc repository.Account) error {
	_, err := kv.SetJSON(ctx, r.store, accountKey(acc.UserID), acc)
	return mapErr(err)
}

func (r *Repository) Update(ctx context.Context, acc repository.Account, version int64) error {
	_, err := kv.CompareAndSetJSON(ctx, r.store, accountKey(acc.UserID), version, acc)
	return mapErr(err)
}

func (r *Repository) GetDecision(ctx context.Context, orderID string) (repository.Decision, error) {
	d, _, err := kv.GetJSON[repository.Decision](ctx, r.store, decisionKey(orderID))
	if err != nil {
		return repository.Decision{}, mapErr(err)
	}
	return d, nil
}

func (r *Repository) CreateDecision(ctx context.Context, d repository.Decision) error {
	_, err := kv.CompareAndSetJSON(ctx, r.store, decisionKey(d.OrderID), 0, d)
	return mapErr(err)
}

// mapErr translates store sentinels; unavailability keeps kv.ErrUnavailable in the chain.
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
