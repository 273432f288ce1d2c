package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/bus"
	"github.com/Nobert1/event-driven-systems/platform/bus/memory"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/kv"
)

const dlqTopic = "saga.dlq"

func startRunner(t *testing.T, broker *memory.Broker, topic string, h Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := New(zap.NewNop(), broker, topic, h,
		bus.NewDLQPublisher(zap.NewNop(), broker, dlqTopic), nil,
		Config{MaxAttempts: 3, BackoffBase: time.Millisecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func publish(t *testing.T, broker *memory.Broker, e event.Event) {
	t.Helper()
	require.NoError(t, bus.PublishEvent(context.Background(), broker, e))
}

func TestRunner_AcksHandledEvent(t *testing.T) {
	broker := memory.NewBroker()
	var got atomic.Value
	startRunner(t, broker, event.TopicPayment, func(ctx context.Context, ev event.Decoded) error {
		got.Store(ev.Event)
		return nil
	})

	publish(t, broker, event.ReservePayment{OrderID: "o-1", UserID: "u-1", Amount: 10})

	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
	require.Equal(t, event.ReservePayment{OrderID: "o-1", UserID: "u-1", Amount: 10}, got.Load())
	require.Eventually(t, func() bool { return broker.Pending(event.TopicPayment) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRunner_RetriesTransientErrors(t *testing.T) {
	broker := memory.NewBroker()
	var calls atomic.Int32
	startRunner(t, broker, event.TopicStock, func(ctx context.Context, ev event.Decoded) error {
		if calls.Add(1) < 3 {
			return errors.New("store unavailable")
		}
		return nil
	})

	publish(t, broker, event.ReserveStock{OrderID: "o-2", Items: []event.LineItem{{ItemID: "i-1", Quantity: 1}}})

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(3), calls.Load())
}

func TestRunner_NacksAfterExhaustedRetries(t *testing.T) {
	broker := memory.NewBroker()
	var calls atomic.Int32
	startRunner(t, broker, event.TopicOrder, func(ctx context.Context, ev event.Decoded) error {
		// first delivery fails all three attempts, the redelivery succeeds
		if calls.Add(1) <= 3 {
			return errors.New("version conflict")
		}
		return nil
	})

	publish(t, broker, event.PaymentReserved{OrderID: "o-3"})

	require.Eventually(t, func() bool { return calls.Load() == 4 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return broker.Pending(event.TopicOrder) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRunner_PermanentErrorIsAcked(t *testing.T) {
	broker := memory.NewBroker()
	var calls atomic.Int32
	startRunner(t, broker, event.TopicOrder, func(ctx context.Context, ev event.Decoded) error {
		calls.Add(1)
		return Permanent(errors.New("unknown order"))
	})

	publish(t, broker, event.StockRejected{OrderID: "o-4", Reason: event.ReasonInsufficientStock})

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 0, broker.Pending(event.TopicOrder))
}

func TestRunner_MalformedGoesToDLQ(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		body  func(t *testing.T) []byte
	}{
		{
			name:  "not json",
			topic: event.TopicPayment,
			body:  func(t *testing.T) []byte { return []byte("{oops") },
		},
		{
			name:  "kind on wrong topic",
			topic: event.TopicPayment,
			body: func(t *testing.T) []byte {
				b, err := event.Encode(event.StockReserved{OrderID: "o-5"})
				require.NoError(t, err)
				return b
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := memory.NewBroker()
			var calls atomic.Int32
			startRunner(t, broker, tt.topic, func(ctx context.Context, ev event.Decoded) error {
				calls.Add(1)
				return nil
			})

			require.NoError(t, broker.Publish(context.Background(), bus.Message{Topic: tt.topic, Key: "o-5", Body: tt.body(t)}))

			require.Eventually(t, func() bool { return len(broker.Published(dlqTopic)) == 1 }, time.Second, 5*time.Millisecond)
			require.Eventually(t, func() bool { return broker.Pending(tt.topic) == 0 }, time.Second, 5*time.Millisecond)
			require.Zero(t, calls.Load())

			var letter bus.DeadLetter
			require.NoError(t, json.Unmarshal(broker.Published(dlqTopic)[0].Body, &letter))
			require.Equal(t, tt.topic, letter.OriginalTopic)
		})
	}
}

func TestRunner_CorruptStateGoesToDLQ(t *testing.T) {
	broker := memory.NewBroker()
	var calls atomic.Int32
	startRunner(t, broker, event.TopicStock, func(ctx context.Context, ev event.Decoded) error {
		calls.Add(1)
		return fmt.Errorf("get item: %w: redis version \"x\" for item:i-1", kv.ErrCorrupt)
	})

	publish(t, broker, event.ReserveStock{OrderID: "o-6", Items: []event.LineItem{{ItemID: "i-1", Quantity: 1}}})

	require.Eventually(t, func() bool { return len(broker.Published(dlqTopic)) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return broker.Pending(event.TopicStock) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	// no retry and no redelivery
	require.Equal(t, int32(1), calls.Load())

	var letter bus.DeadLetter
	require.NoError(t, json.Unmarshal(broker.Published(dlqTopic)[0].Body, &letter))
	require.Equal(t, event.TopicStock, letter.OriginalTopic)
	require.Equal(t, "o-6", letter.OrderID)
	require.Contains(t, letter.ErrorMessage, "corrupt")
}

func TestPermanent(t *testing.T) {
	base := errors.New("account missing")
	err := Permanent(base)
	require.True(t, IsPermanent(err))
	require.ErrorIs(t, err, base)
	require.False(t, IsPermanent(base))
	require.NoError(t, Permanent(nil))
}
