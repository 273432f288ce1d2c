// Package handler turns payment-topic events into ledger calls and publishes
// the outcomes.
package handler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/payment/service"
	"github.com/Nobert1/event-driven-systems/platform/bus"
	"github.com/Nobert1/event-driven-systems/platform/consumer"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

// Ledger is the part of the account service the handler needs.
type Ledger interface {
	Reserve(ctx context.Context, orderID, userID string, amount int64) (service.Outcome, error)
	Release(ctx context.Context, orderID, userID string, amount int64) error
}

type Handler struct {
	logger  *zap.Logger
	ledger  Ledger
	pub     bus.Publisher
	metrics *observability.Metrics
}

func New(logger *zap.Logger, ledger Ledger, pub bus.Publisher, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, ledger: ledger, pub: pub, metrics: metrics}
}

// Handle is a consumer.Handler for the payment topic.
func (h *Handler) Handle(ctx context.Context, ev event.Decoded) error {
	switch e := ev.Event.(type) {
	case event.ReservePayment:
		return h.reserve(ctx, e)
	case event.ReleasePayment:
		return h.release(ctx, e)
	}
	return fmt.Errorf("%w: unexpected kind %s on payment topic", event.ErrMalformed, ev.Kind)
}

func (h *Handler) reserve(ctx context.Context, e event.ReservePayment) error {
	out, err := h.ledger.Reserve(ctx, e.OrderID, e.UserID, e.Amount)
	if err != nil {
		return fmt.Errorf("reserve payment: %w", err)
	}

	// The decision is already durable; a failed publish is retried and the
	// redelivered request re-emits the same outcome.
	var outcome event.Event = event.PaymentReserved{OrderID: e.OrderID}
	if !out.Approved {
		outcome = event.PaymentRejected{OrderID: e.OrderID, Reason: out.Reason}
	}
	if err := bus.PublishEvent(ctx, h.pub, outcome); err != nil {
		return err
	}

	h.metrics.Outcome(ctx, outcomeName(outcome.Kind()))
	return nil
}

func (h *Handler) release(ctx context.Context, e event.ReleasePayment) error {
	err := h.ledger.Release(ctx, e.OrderID, e.UserID, e.Amount)
	switch {
	case err == nil:
		h.metrics.Outcome(ctx, "payment_released")
		return nil
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, service.ErrReservationNotFound):
		observability.L(ctx, h.logger).Warn("nothing to release",
			zap.String("order_id", e.OrderID),
			zap.String("user_id", e.UserID),
			zap.Error(err),
		)
		return consumer.Permanent(err)
	}
	return fmt.Errorf("release payment: %w", err)
}

func outcomeName(k event.Kind) string {
	switch k {
	case event.KindPaymentReserved:
		return "payment_reserved"
	case event.KindPaymentRejected:
		return "payment_rejected"
	}
	return string(k)
}
