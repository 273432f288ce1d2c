// Package dispatcher finishes checkouts whose reservation requests never made
// it onto the bus.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/order/repository"
)

// Checkouts is the part of the order service the dispatcher drives.
type Checkouts interface {
	PendingCheckouts(ctx context.Context, limit int) ([]repository.PendingCheckout, error)
	ResumeCheckout(ctx context.Context, orderID string) (repository.Order, error)
}

// CheckoutDispatcher periodically walks the pending checkout index and
// republishes whatever reservation request an order is still missing.
type CheckoutDispatcher struct {
	logger    *zap.Logger
	checkouts Checkouts
	batchSize int
	interval  time.Duration
	minAge    time.Duration
	now       func() time.Time
}

// NewCheckoutDispatcher creates a dispatcher. Nothing runs until Start.
func NewCheckoutDispatcher(
	logger *zap.Logger,
	checkouts Checkouts,
	batchSize int,          // batchSize - how many pending checkouts one pass looks at
	interval time.Duration, // interval - pause between passes
	minAge time.Duration,   // minAge - entries younger than this still belong to the live checkout call
) *CheckoutDispatcher {
	return &CheckoutDispatcher{
		logger:    logger,
		checkouts: checkouts,
		batchSize: batchSize,
		interval:  interval,
		minAge:    minAge,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start runs passes until ctx is cancelled. The first pass runs right away so
// checkouts left behind by a previous process are picked up on boot.
func (d *CheckoutDispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting checkout dispatcher",
		zap.Int("batch_size", d.batchSize),
		zap.Duration("interval", d.interval),
		zap.Duration("min_age", d.minAge),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("failed to process initial batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("checkout dispatcher context cancelled, stopping")
			return nil
		case <-ticker.C:
			if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("failed to process batch", zap.Error(err))
			}
		}
	}
}

// processBatch resumes one batch of pending checkouts. A failing order is
// logged and skipped; it stays on the index for the next pass.
func (d *CheckoutDispatcher) processBatch(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	pending, err := d.checkouts.PendingCheckouts(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending checkouts: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	d.logger.Debug("processing pending checkouts", zap.Int("count", len(pending)))

	cutoff := d.now().Add(-d.minAge)
	for _, p := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// oldest first, so everything after a young entry is young too
		if p.Since.After(cutoff) {
			break
		}

		o, err := d.checkouts.ResumeCheckout(ctx, p.OrderID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("failed to resume checkout",
				zap.Error(err),
				zap.String("order_id", p.OrderID),
				zap.Duration("pending_for", d.now().Sub(p.Since)),
			)
			continue
		}
		d.logger.Info("checkout resumed",
			zap.String("order_id", p.OrderID),
			zap.String("state", string(o.State())),
		)
	}
	return nil
}
