// Package reconciler folds reservation outcomes from the order topic into
// orders and issues the compensating release when the legs disagree.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/order/repository"
	"github.com/Nobert1/event-driven-systems/internal/order/service"
	"github.com/Nobert1/event-driven-systems/platform/consumer"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

// Orders is the part of the order service the reconciler drives.
type Orders interface {
	RecordOutcome(ctx context.Context, orderID string, leg service.Leg, approved bool) (repository.Order, bool, error)
	Compensate(ctx context.Context, o repository.Order) (repository.Order, error)
}

type Reconciler struct {
	logger  *zap.Logger
	orders  Orders
	metrics *observability.Metrics
}

func New(logger *zap.Logger, orders Orders, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{logger: logger, orders: orders, metrics: metrics}
}

// Handle is a consumer.Handler for the order topic.
func (r *Reconciler) Handle(ctx context.Context, ev event.Decoded) error {
	var (
		leg      service.Leg
		approved bool
	)
	switch e := ev.Event.(type) {
	case event.PaymentReserved:
		leg, approved = service.LegPayment, true
	case event.PaymentRejected:
		leg = service.LegPayment
		r.logRejection(ctx, e.OrderID, leg, e.Reason)
	case event.StockReserved:
		leg, approved = service.LegStock, true
	case event.StockRejected:
		leg = service.LegStock
		r.logRejection(ctx, e.OrderID, leg, e.Reason)
	default:
		return fmt.Errorf("%w: unexpected kind %s on order topic", event.ErrMalformed, ev.Kind)
	}
	orderID := ev.Event.CorrelationID()
	log := observability.L(ctx, r.logger).With(zap.String("order_id", orderID), zap.String("kind", string(ev.Kind)))

	o, changed, err := r.orders.RecordOutcome(ctx, orderID, leg, approved)
	if errors.Is(err, repository.ErrOrderNotFound) {
		log.Warn("outcome for unknown order")
		return consumer.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	if changed {
		switch o.State() {
		case repository.StateConfirmed:
			log.Info("order confirmed")
			r.metrics.Outcome(ctx, "order_confirmed")
		case repository.StateRejected:
			log.Info("order rejected", zap.String("payment_status", string(o.PaymentStatus)), zap.String("stock_status", string(o.StockStatus)))
			r.metrics.Outcome(ctx, "order_rejected")
		}
	}

	// Runs on every delivery so that a release whose publish failed is
	// retried by the redelivered outcome.
	if _, err := r.orders.Compensate(ctx, o); err != nil {
		return fmt.Errorf("compensate: %w", err)
	}
	return nil
}

func (r *Reconciler) logRejection(ctx context.Context, orderID string, leg service.Leg, reason string) {
	observability.L(ctx, r.logger).Info("reservation rejected",
		zap.String("order_id", orderID), zap.String("leg", string(leg)), zap.String("reason", reason))
}
