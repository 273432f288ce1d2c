package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the saga counters. Instruments come from the global MeterProvider,
// so Init must run first for them to be exported.
type Metrics struct {
	consumed metric.Int64Counter
	outcomes metric.Int64Counter
}

// NewMetrics creates the instruments for serviceName.
func NewMetrics(serviceName string) (*Metrics, error) {
	meter := otel.Meter(serviceName)

	consumed, err := meter.Int64Counter("saga.messages.consumed",
		metric.WithDescription("Consumed bus messages by topic and result (ack, nack, dead_letter)"))
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("saga.outcomes",
		metric.WithDescription("Reservation and order outcomes by kind"))
	if err != nil {
		return nil, err
	}
	return &Metrics{consumed: consumed, outcomes: outcomes}, nil
}

// MessageConsumed counts one settled message.
func (m *Metrics) MessageConsumed(ctx context.Context, topic, result string) {
	if m == nil {
		return
	}
	m.consumed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("result", result),
	))
}

// Outcome counts one decided outcome (payment_reserved, order_confirmed, ...).
func (m *Metrics) Outcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
