package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerPublisher stops hammering a broker that keeps failing. While the
// breaker is open Publish fails fast with ErrUnavailable, so callers treat it
// exactly like a broker that refused the message.
type BreakerPublisher struct {
	next Publisher                 // next - the real transport publisher
	cb   *gobreaker.CircuitBreaker // cb - shared by every Publish of the service
}

// NewBreakerPublisher trips after 5 requests with at least 60% failures and
// tries again after 10s.
func NewBreakerPublisher(
	next Publisher,     // next - publisher being guarded, kafka or rabbitmq
	name string,        // name - breaker name in logs, the service name
	logger *zap.Logger, // logger - receives state transitions
) *BreakerPublisher {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // MaxRequests - trial publishes let through while half-open
		Interval:    5 * time.Second,  // Interval - counts are reset this often while closed
		Timeout:     10 * time.Second, // Timeout - how long the breaker stays open before half-open
		// Trip only with enough traffic to judge; one failed publish on an idle service is not an outage.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// A cancelled caller says nothing about the broker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &BreakerPublisher{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Publish runs next.Publish through the breaker. Errors of the breaker itself
// are wrapped as ErrUnavailable; transport errors pass through unchanged.
func (p *BreakerPublisher) Publish(ctx context.Context, msg Message) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// State exposes the breaker state for health reporting.
func (p *BreakerPublisher) State() gobreaker.State {
	return p.cb.State()
}
