// Package handler turns stock-topic events into inventory calls and publishes
// the outcomes.
package handler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/inventory/service"
	"github.com/Nobert1/event-driven-systems/platform/bus"
	"github.com/Nobert1/event-driven-systems/platform/consumer"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

// Stock is the part of the inventory service the handler needs.
type Stock interface {
	Reserve(ctx context.Context, orderID string, items []event.LineItem) (service.Outcome, error)
	Release(ctx context.Context, orderID string, items []event.LineItem) error
}

type Handler struct {
	logger  *zap.Logger
	stock   Stock
	pub     bus.Publisher
	metrics *observability.Metrics
}

func New(logger *zap.Logger, stock Stock, pub bus.Publisher, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, stock: stock, pub: pub, metrics: metrics}
}

// Handle is a consumer.Handler for the stock topic.
func (h *Handler) Handle(ctx context.Context, ev event.Decoded) error {
	switch e := ev.Event.(type) {
	case event.ReserveStock:
		return h.reserve(ctx, e)
	case event.ReleaseStock:
		return h.release(ctx, e)
	}
	return fmt.Errorf("%w: unexpected kind %s on stock topic", event.ErrMalformed, ev.Kind)
}

func (h *Handler) reserve(ctx context.Context, e event.ReserveStock) error {
	out, err := h.stock.Reserve(ctx, e.OrderID, e.Items)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	var outcome event.Event = event.StockReserved{OrderID: e.OrderID}
	if !out.Approved {
		outcome = event.StockRejected{OrderID: e.OrderID, Reason: out.Reason}
	}
	if err := bus.PublishEvent(ctx, h.pub, outcome); err != nil {
		return err
	}

	if out.Approved {
		h.metrics.Outcome(ctx, "stock_reserved")
	} else {
		h.metrics.Outcome(ctx, "stock_rejected")
	}
	return nil
}

func (h *Handler) release(ctx context.Context, e event.ReleaseStock) error {
	err := h.stock.Release(ctx, e.OrderID, e.Items)
	switch {
	case err == nil:
		h.metrics.Outcome(ctx, "stock_released")
		return nil
	case errors.Is(err, service.ErrReservationNotFound):
		observability.L(ctx, h.logger).Warn("nothing to release", zap.String("order_id", e.OrderID), zap.Error(err))
		return consumer.Permanent(err)
	}
	return fmt.Errorf("release stock: %w", err)
}
