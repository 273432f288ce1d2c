package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/order/repository"
	"github.com/Nobert1/event-driven-systems/internal/order/repository/store"
	"github.com/Nobert1/event-driven-systems/internal/order/service"
	"github.com/Nobert1/event-driven-systems/platform/bus"
	busmemory "github.com/Nobert1/event-driven-systems/platform/bus/memory"
	"github.com/Nobert1/event-driven-systems/platform/event"
	kvmemory "github.com/Nobert1/event-driven-systems/platform/kv/memory"
	"github.com/Nobert1/event-driven-systems/platform/retry"
)

type flatPrice struct{}

func (flatPrice) ItemPrice(context.Context, string) (int64, error) { return 10, nil }

// outage fails every publish with bus.ErrUnavailable while down is set.
type outage struct {
	*busmemory.Broker
	down atomic.Bool
}

func (o *outage) Publish(ctx context.Context, msg bus.Message) error {
	if o.down.Load() {
		return bus.ErrUnavailable
	}
	return o.Broker.Publish(ctx, msg)
}

// stalledCheckout returns an order whose checkout started while the bus was
// down, so neither reservation was published.
func stalledCheckout(t *testing.T) (*service.OrderService, *outage, string) {
	t.Helper()
	ctx := context.Background()
	pub := &outage{Broker: busmemory.NewBroker()}
	orders := service.NewOrderService(zap.NewNop(), store.NewRepository(kvmemory.NewStore()), flatPrice{}, pub,
		service.WithPublishPolicy(retry.Policy{MaxAttempts: 2, BackoffBase: time.Millisecond}))

	orderID, err := orders.Create(ctx, "user-1")
	require.NoError(t, err)
	_, err = orders.AddItem(ctx, orderID, "item-a", 2)
	require.NoError(t, err)

	pub.down.Store(true)
	_, err = orders.Checkout(ctx, orderID)
	require.ErrorIs(t, err, bus.ErrUnavailable)
	return orders, pub, orderID
}

func TestCheckoutDispatcher_ResumesStalledCheckout(t *testing.T) {
	ctx := context.Background()
	orders, pub, orderID := stalledCheckout(t)
	d := NewCheckoutDispatcher(zap.NewNop(), orders, 10, time.Hour, 0)

	// still down: the entry survives the pass
	require.NoError(t, d.processBatch(ctx))
	pending, err := orders.PendingCheckouts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	pub.down.Store(false)
	require.NoError(t, d.processBatch(ctx))

	o, err := orders.Find(ctx, orderID)
	require.NoError(t, err)
	require.True(t, o.Checkout.PaymentRequested)
	require.True(t, o.Checkout.StockRequested)
	require.Len(t, pub.Published(event.TopicPayment), 1)
	require.Len(t, pub.Published(event.TopicStock), 1)

	pending, err = orders.PendingCheckouts(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	// a later pass has nothing to do
	require.NoError(t, d.processBatch(ctx))
	require.Len(t, pub.Published(event.TopicPayment), 1)
}

func TestCheckoutDispatcher_LeavesYoungEntries(t *testing.T) {
	ctx := context.Background()
	orders, pub, _ := stalledCheckout(t)
	pub.down.Store(false)
	d := NewCheckoutDispatcher(zap.NewNop(), orders, 10, time.Hour, time.Minute)

	require.NoError(t, d.processBatch(ctx))
	require.Empty(t, pub.Published(event.TopicPayment))

	d.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	require.NoError(t, d.processBatch(ctx))
	require.Len(t, pub.Published(event.TopicPayment), 1)
}

func TestCheckoutDispatcher_Start(t *testing.T) {
	orders, pub, orderID := stalledCheckout(t)
	d := NewCheckoutDispatcher(zap.NewNop(), orders, 10, 5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	pub.down.Store(false)

	require.Eventually(t, func() bool {
		o, err := orders.Find(context.Background(), orderID)
		return err == nil && o.Checkout.StockRequested
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

type failingCheckouts struct {
	resumed []string
}

func (f *failingCheckouts) PendingCheckouts(context.Context, int) ([]repository.PendingCheckout, error) {
	return []repository.PendingCheckout{{OrderID: "order-1"}, {OrderID: "order-2"}}, nil
}

func (f *failingCheckouts) ResumeCheckout(_ context.Context, orderID string) (repository.Order, error) {
	f.resumed = append(f.resumed, orderID)
	return repository.Order{}, bus.ErrUnavailable
}

func TestCheckoutDispatcher_ContinuesPastFailures(t *testing.T) {
	f := &failingCheckouts{}
	d := NewCheckoutDispatcher(zap.NewNop(), f, 10, time.Hour, 0)

	require.NoError(t, d.processBatch(context.Background()))
	require.Equal(t, []string{"order-1", "order-2"}, f.resumed)
}
