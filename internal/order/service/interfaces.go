package service

import "context"

//go:generate go run github.com/vektra/mockery/v2 --name=InventoryClient --dir=. --output=./mocks --outpkg=mocks

// InventoryClient prices order lines. Implementations return ErrItemNotFound
// for an unknown item and ErrInventoryUnavailable when the lookup may be retried.
type InventoryClient interface {
	ItemPrice(ctx context.Context, itemID string) (int64, error)
}
