package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Nobert1/event-driven-systems/platform/bus"
)

func receive(t *testing.T, ch <-chan *bus.Delivery) *bus.Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("no delivery")
		return nil
	}
}

func TestBroker_AckRemovesMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroker()
	require.NoError(t, b.Publish(ctx, bus.Message{Topic: "stock", Key: "order-1", Body: []byte("a")}))

	ch, err := b.Subscribe(ctx, "stock")
	require.NoError(t, err)

	d := receive(t, ch)
	require.Equal(t, "order-1", d.Key)
	require.False(t, d.Redelivered)
	require.NoError(t, d.Ack(ctx))
	require.NoError(t, d.Ack(ctx), "ack is idempotent")
	require.True(t, d.Acked())

	require.Equal(t, 0, b.Pending("stock"))
	require.Len(t, b.Published("stock"), 1)
}

func TestBroker_NackRedelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroker()
	require.NoError(t, b.Publish(ctx, bus.Message{Topic: "payment", Body: []byte("a")}))

	ch, err := b.Subscribe(ctx, "payment")
	require.NoError(t, err)

	first := receive(t, ch)
	require.NoError(t, first.Nack(ctx))

	second := receive(t, ch)
	require.True(t, second.Redelivered)
	require.Equal(t, first.Body, second.Body)
	require.NoError(t, second.Ack(ctx))
}

func TestBroker_AbandonedDeliveryIsRequeued(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Publish(context.Background(), bus.Message{Topic: "order", Body: []byte("a")}))

	crashCtx, crash := context.WithCancel(context.Background())
	ch, err := b.Subscribe(crashCtx, "order")
	require.NoError(t, err)
	_ = receive(t, ch)
	crash()

	require.Eventually(t, func() bool { return b.Pending("order") == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err = b.Subscribe(ctx, "order")
	require.NoError(t, err)
	d := receive(t, ch)
	require.True(t, d.Redelivered)
	require.NoError(t, d.Ack(ctx))
}

func TestBroker_CompetingSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroker()
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Publish(ctx, bus.Message{Topic: "stock", Body: []byte{byte(i)}}))
	}

	a, err := b.Subscribe(ctx, "stock")
	require.NoError(t, err)
	c, err := b.Subscribe(ctx, "stock")
	require.NoError(t, err)

	seen := map[byte]bool{}
	for i := 0; i < 4; i++ {
		var d *bus.Delivery
		select {
		case d = <-a:
		case d = <-c:
		case <-time.After(time.Second):
			t.Fatal("no delivery")
		}
		seen[d.Body[0]] = true
		require.NoError(t, d.Ack(ctx))
	}
	require.Len(t, seen, 4)
}

func TestBroker_Closed(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), bus.Message{Topic: "order"})
	require.ErrorIs(t, err, bus.ErrClosed)
	require.ErrorIs(t, b.Ping(context.Background()), bus.ErrClosed)
}
