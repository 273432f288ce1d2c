// Package memory is an in-process bus with at-least-once semantics: a message
// leaves its topic only when acknowledged, a Nack or an abandoned delivery puts
// it back for redelivery.
package memory

import (
	"context"
	"sync"

	"github.com/Nobert1/event-driven-systems/platform/bus"
)

type entry struct {
	msg        bus.Message
	deliveries int
}

type queue struct {
	items  []*entry
	signal chan struct{}
}

// Broker implements bus.Bus.
type Broker struct {
	mu        sync.Mutex
	topics    map[string]*queue
	published map[string][]bus.Message
	closed    bool
	done      chan struct{}
}

func NewBroker() *Broker {
	return &Broker{
		topics:    make(map[string]*queue),
		published: make(map[string][]bus.Message),
		done:      make(chan struct{}),
	}
}

func (b *Broker) queueLocked(topic string) *queue {
	q, ok := b.topics[topic]
	if !ok {
		q = &queue{signal: make(chan struct{}, 1)}
		b.topics[topic] = q
	}
	return q
}

func (q *queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (b *Broker) Publish(ctx context.Context, msg bus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.ErrClosed
	}

	msg.Body = append([]byte(nil), msg.Body...)
	q := b.queueLocked(msg.Topic)
	q.items = append(q.items, &entry{msg: msg})
	b.published[msg.Topic] = append(b.published[msg.Topic], msg)
	q.notify()
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan *bus.Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, bus.ErrClosed
	}
	q := b.queueLocked(topic)
	b.mu.Unlock()

	out := make(chan *bus.Delivery)
	go func() {
		defer close(out)
		for {
			e, ok := b.next(ctx, q)
			if !ok {
				return
			}

			d := bus.NewDelivery(e.msg, e.deliveries > 1, func(_ context.Context, ack bool) error {
				if !ack {
					b.requeue(q, e)
				}
				return nil
			})

			select {
			case out <- d:
			case <-ctx.Done():
				b.requeue(q, e)
				return
			case <-b.done:
				return
			}

			select {
			case <-d.Done():
			case <-ctx.Done():
				// Consumer went away without settling: same as a crash.
				_ = d.Nack(context.Background())
				return
			case <-b.done:
				return
			}
		}
	}()
	return out, nil
}

// next blocks until a message is available on q.
func (b *Broker) next(ctx context.Context, q *queue) (*entry, bool) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, false
		}
		if len(q.items) > 0 {
			e := q.items[0]
			q.items = q.items[1:]
			e.deliveries++
			if len(q.items) > 0 {
				q.notify()
			}
			b.mu.Unlock()
			return e, true
		}
		b.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		case <-b.done:
			return nil, false
		}
	}
}

func (b *Broker) requeue(q *queue, e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	q.items = append(q.items, e)
	q.notify()
}

// Pending returns how many messages of topic wait for delivery.
func (b *Broker) Pending(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.topics[topic]; ok {
		return len(q.items)
	}
	return 0
}

// Published returns every message ever published to topic, in order.
func (b *Broker) Published(topic string) []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.Message(nil), b.published[topic]...)
}

func (b *Broker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.ErrClosed
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
