// Package bus is the publish/consume contract shared by the saga services.
// Backends live in subpackages: memory (tests, single process), kafka and rabbitmq.
package bus

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus closed")
	// ErrUnavailable wraps broker failures that are worth retrying later.
	ErrUnavailable = errors.New("bus unavailable")
)

// Message is what travels over a topic.
type Message struct {
	Topic   string
	Key     string
	Body    []byte
	Headers map[string]string
}

//go:generate go run github.com/vektra/mockery/v2 --name=Publisher --dir=. --output=./mocks --outpkg=mocks

// Publisher hands a message to the broker. A nil error means the broker accepted it durably.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber streams deliveries of one topic. A subscription hands out one
// delivery at a time: the next one arrives after the previous is settled.
// Several subscriptions to the same topic compete for messages.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *Delivery, error)
}

// Bus is a full backend.
type Bus interface {
	Publisher
	Subscriber
	Ping(ctx context.Context) error
	Close() error
}

// Delivery is a received message awaiting Ack or Nack.
type Delivery struct {
	Message
	// Redelivered is true when the broker knows the message was handed out before.
	Redelivered bool

	once    sync.Once
	settle  func(ctx context.Context, ack bool) error
	err     error
	settled chan struct{}
	acked   bool
}

// NewDelivery is used by backends. settle is called at most once.
func NewDelivery(msg Message, redelivered bool, settle func(ctx context.Context, ack bool) error) *Delivery {
	return &Delivery{
		Message:     msg,
		Redelivered: redelivered,
		settle:      settle,
		settled:     make(chan struct{}),
	}
}

// Ack confirms processing. Only the first Ack/Nack has an effect; later calls
// return the result of the first one.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.finish(ctx, true)
}

// Nack hands the message back to the broker for redelivery.
func (d *Delivery) Nack(ctx context.Context) error {
	return d.finish(ctx, false)
}

func (d *Delivery) finish(ctx context.Context, ack bool) error {
	d.once.Do(func() {
		d.acked = ack
		d.err = d.settle(ctx, ack)
		close(d.settled)
	})
	return d.err
}

// Done is closed once the delivery is settled.
func (d *Delivery) Done() <-chan struct{} {
	return d.settled
}

// Acked reports whether the delivery was settled with Ack.
func (d *Delivery) Acked() bool {
	select {
	case <-d.settled:
		return d.acked
	default:
		return false
	}
}
