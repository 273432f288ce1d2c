// Package consumer runs the receive loop shared by every saga handler:
// decode, dispatch, retry with backoff, then ack or nack.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/bus"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/kv"
	"github.com/Nobert1/event-driven-systems/platform/observability"
	"github.com/Nobert1/event-driven-systems/platform/retry"
)

// Results recorded in the saga.messages.consumed counter.
const (
	resultAck        = "ack"
	resultNack       = "nack"
	resultDeadLetter = "dead_letter"
)

// Handler processes one decoded event. A nil error or a Permanent error acks
// the message. event.ErrMalformed and kv.ErrCorrupt send it to the DLQ
// without a retry. Anything else is retried and finally nacked.
type Handler func(ctx context.Context, ev event.Decoded) error

type Config struct {
	MaxAttempts int           `env:"CONSUMER_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase time.Duration `env:"CONSUMER_BACKOFF_BASE" envDefault:"1s"`
}

// Runner consumes one topic.
type Runner struct {
	logger  *zap.Logger
	sub     bus.Subscriber
	topic   string
	handler Handler
	dlq     *bus.DLQPublisher
	metrics *observability.Metrics
	policy  retry.Policy
}

// New builds a Runner. dlq and metrics may be nil.
func New(
	logger *zap.Logger,
	sub bus.Subscriber,             // sub - where deliveries come from, usually the service bus
	topic string,                   // topic - the only topic this runner reads; other kinds on it are dead-lettered
	handler Handler,                // handler - called once per attempt with the decoded event
	dlq *bus.DLQPublisher,          // dlq - destination for messages that can never succeed; nil only acks them
	metrics *observability.Metrics, // metrics - counts ack, nack and dead_letter results
	cfg Config,                     // cfg - attempts and backoff for transient handler errors
) *Runner {
	return &Runner{
		logger:  logger.With(zap.String("topic", topic)),
		sub:     sub,
		topic:   topic,
		handler: handler,
		dlq:     dlq,
		metrics: metrics,
		policy:  retry.Policy{MaxAttempts: cfg.MaxAttempts, BackoffBase: cfg.BackoffBase},
	}
}

// Start blocks until ctx is cancelled. A failed or closed subscription is
// re-opened after a backoff.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("starting consumer",
		zap.Int("max_retry_attempts", r.policy.MaxAttempts),
		zap.Duration("retry_backoff_base", r.policy.BackoffBase),
	)

	failures := 0
	for {
		deliveries, err := r.sub.Subscribe(ctx, r.topic)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, bus.ErrClosed) {
				r.logger.Info("bus closed, stopping consumer")
				return nil
			}
			failures++
			r.logger.Error("failed to subscribe", zap.Error(err), zap.Int("attempt", failures))
		} else {
			failures = 0
			for d := range deliveries {
				r.process(ctx, d)
			}
			if ctx.Err() != nil {
				r.logger.Info("consumer context cancelled, stopping")
				return nil
			}
			r.logger.Warn("subscription ended, resubscribing")
			failures++
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.policy.Backoff(min(failures+1, 6))):
		}
	}
}

// process settles d exactly once.
func (r *Runner) process(ctx context.Context, d *bus.Delivery) {
	ctx, span := observability.StartConsumeSpan(ctx, d.Topic, d.Headers)
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	log := observability.L(ctx, r.logger)

	// A body that does not decode never reaches the handler.
	ev, err := event.Decode(d.Body)
	if err == nil && event.Topic(ev.Kind) != r.topic {
		err = &event.ParseError{Field: "kind", Message: fmt.Sprintf("kind %s does not belong on topic %s", ev.Kind, r.topic)}
	}
	if err != nil {
		spanErr = err
		r.deadLetter(ctx, log, d, ev, err)
		return
	}

	log = log.With(
		zap.String("order_id", ev.CorrelationID),
		zap.String("kind", string(ev.Kind)),
		zap.String("event_id", ev.EventID),
		zap.Bool("redelivered", d.Redelivered),
	)
	log.Debug("received event")

	// Retry in place first; only transient errors get another attempt.
	err = retry.Do(ctx, r.policy,
		func(err error) bool { return !IsPermanent(err) && !isPoison(err) },
		func(attempt int, backoff time.Duration, err error) {
			log.Info("retrying event",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("backoff", backoff),
			)
		},
		func(ctx context.Context) error { return r.handler(ctx, ev) },
	)

	switch {
	case err == nil:
		r.settle(ctx, log, d, true)
	case IsPermanent(err):
		log.Warn("event rejected permanently, acknowledging", zap.Error(err))
		r.settle(ctx, log, d, true)
	case isPoison(err):
		spanErr = err
		r.deadLetter(ctx, log, d, ev, err)
	default:
		// The bus redelivers it; handlers are idempotent per order.
		spanErr = err
		log.Error("failed to handle event after all retries, leaving for redelivery",
			zap.Error(err),
			zap.Int("max_attempts", r.policy.MaxAttempts),
		)
		r.settle(ctx, log, d, false)
	}
}

// isPoison reports errors that no redelivery can fix: the event itself is
// invalid, or the state it touches cannot be read back from the store.
func isPoison(err error) bool {
	return errors.Is(err, event.ErrMalformed) || errors.Is(err, kv.ErrCorrupt)
}

// deadLetter publishes d to the DLQ and acks it; if that fails the message is nacked.
func (r *Runner) deadLetter(ctx context.Context, log *zap.Logger, d *bus.Delivery, ev event.Decoded, cause error) {
	log.Error("unprocessable message, dead-lettering", zap.Error(cause), zap.String("kind", string(ev.Kind)))

	if r.dlq != nil {
		if err := r.dlq.Publish(ctx, d.Message, cause, string(ev.Kind), ev.EventID, ev.CorrelationID); err != nil {
			log.Error("failed to send message to DLQ, not acknowledging", zap.Error(err))
			r.settle(ctx, log, d, false)
			return
		}
	}

	if err := d.Ack(context.WithoutCancel(ctx)); err != nil {
		log.Error("failed to acknowledge message", zap.Error(err))
	}
	r.metrics.MessageConsumed(ctx, r.topic, resultDeadLetter)
}

func (r *Runner) settle(ctx context.Context, log *zap.Logger, d *bus.Delivery, ack bool) {
	// Settlement must survive shutdown of the consume context.
	settleCtx := context.WithoutCancel(ctx)
	result := resultAck
	var err error
	if ack {
		err = d.Ack(settleCtx)
	} else {
		result = resultNack
		err = d.Nack(settleCtx)
	}
	if err != nil {
		log.Error("failed to settle message", zap.Error(err), zap.String("result", result))
		return
	}
	r.metrics.MessageConsumed(ctx, r.topic, result)
}
