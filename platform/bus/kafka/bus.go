package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/bus"
)

// Bus implements bus.Bus on Kafka. Ack commits the offset; Nack closes the
// reader so the group resumes from the last committed offset and the message
// comes back.
type Bus struct {
	cfg    Config
	logger *zap.Logger
	writer *kafka.Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, logger *zap.Logger) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		cfg:    cfg,
		logger: logger,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Body,
		Headers: headers,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: kafka write: %v", bus.ErrUnavailable, err)
	}
	return nil
}

func (b *Bus) newReader(topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		GroupID:  b.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *bus.Delivery, error) {
	if b.ctx.Err() != nil {
		return nil, bus.ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)

	out := make(chan *bus.Delivery)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		defer stop()
		defer cancel()

		for ctx.Err() == nil {
			reader := b.newReader(topic)
			b.consume(ctx, reader, out)
			if err := reader.Close(); err != nil {
				b.logger.Warn("failed to close kafka reader", zap.String("topic", topic), zap.Error(err))
			}
		}
	}()
	return out, nil
}

// consume returns when ctx ends or a delivery was nacked.
func (b *Bus) consume(ctx context.Context, reader *kafka.Reader, out chan<- *bus.Delivery) {
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("failed to fetch message from kafka",
				zap.String("topic", reader.Config().Topic),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		headers := make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			headers[h.Key] = string(h.Value)
		}

		d := bus.NewDelivery(bus.Message{
			Topic:   m.Topic,
			Key:     string(m.Key),
			Body:    m.Value,
			Headers: headers,
		}, false, func(ctx context.Context, ack bool) error {
			if !ack {
				return nil
			}
			if err := reader.CommitMessages(ctx, m); err != nil {
				return fmt.Errorf("%w: commit offset %d: %v", bus.ErrUnavailable, m.Offset, err)
			}
			return nil
		})

		select {
		case out <- d:
		case <-ctx.Done():
			return
		}

		select {
		case <-d.Done():
		case <-ctx.Done():
			return
		}

		if !d.Acked() {
			b.logger.Debug("message nacked, rewinding to committed offset",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
			)
			return
		}
	}
}

// Ping dials the first reachable broker.
func (b *Bus) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range b.cfg.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", bus.ErrUnavailable, lastErr)
}

func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	if err := b.writer.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
