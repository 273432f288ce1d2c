package saga_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	inventoryapp "github.com/Nobert1/event-driven-systems/internal/inventory/app"
	inventoryconfig "github.com/Nobert1/event-driven-systems/internal/inventory/config"
	orderapp "github.com/Nobert1/event-driven-systems/internal/order/app"
	orderconfig "github.com/Nobert1/event-driven-systems/internal/order/config"
	"github.com/Nobert1/event-driven-systems/internal/order/repository"
	paymentapp "github.com/Nobert1/event-driven-systems/internal/payment/app"
	paymentconfig "github.com/Nobert1/event-driven-systems/internal/payment/config"
	platformapp "github.com/Nobert1/event-driven-systems/platform/app"
	"github.com/Nobert1/event-driven-systems/platform/bus"
	busmemory "github.com/Nobert1/event-driven-systems/platform/bus/memory"
	"github.com/Nobert1/event-driven-systems/platform/event"
	kvmemory "github.com/Nobert1/event-driven-systems/platform/kv/memory"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type system struct {
	broker    *busmemory.Broker
	order     *orderapp.App
	payment   *paymentapp.App
	inventory *inventoryapp.App
}

// start runs the three services on one memory bus, each with its own memory
// store. The order service prices lines over HTTP against the inventory API.
func start(t *testing.T) *system {
	t.Helper()
	return startWith(t, nil)
}

// startWith is start with the order service's view of the bus replaced by
// orderBus, when set.
func startWith(t *testing.T, orderBus func(*busmemory.Broker) bus.Bus) *system {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("CONSUMER_BACKOFF_BASE", "10ms")
	t.Setenv("OTEL_ENABLED", "false")

	broker := busmemory.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })
	opts := func() platformapp.Options {
		return platformapp.Options{Logger: zap.NewNop(), Store: kvmemory.NewStore(), Bus: broker}
	}

	invCfg, err := inventoryconfig.Load()
	require.NoError(t, err)
	inv, err := inventoryapp.Build(invCfg, opts())
	require.NoError(t, err)
	require.NoError(t, inv.Start())
	t.Cleanup(inv.Stop)

	payCfg, err := paymentconfig.Load()
	require.NoError(t, err)
	pay, err := paymentapp.Build(payCfg, opts())
	require.NoError(t, err)
	require.NoError(t, pay.Start())
	t.Cleanup(pay.Stop)

	ordCfg, err := orderconfig.Load()
	require.NoError(t, err)
	ordCfg.Inventory.URL = "http://" + inv.HTTPAddr()
	ordOpts := opts()
	if orderBus != nil {
		ordOpts.Bus = orderBus(broker)
	}
	ord, err := orderapp.Build(ordCfg, orderapp.Options{Options: ordOpts})
	require.NoError(t, err)
	require.NoError(t, ord.Start())
	t.Cleanup(ord.Stop)

	return &system{broker: broker, order: ord, payment: pay, inventory: inv}
}

func (s *system) user(t *testing.T, credit int64) string {
	t.Helper()
	ctx := context.Background()
	userID, err := s.payment.Accounts.CreateUser(ctx)
	require.NoError(t, err)
	if credit > 0 {
		require.NoError(t, s.payment.Accounts.AddFunds(ctx, userID, credit))
	}
	return userID
}

func (s *system) item(t *testing.T, price, stock int64) string {
	t.Helper()
	ctx := context.Background()
	itemID, err := s.inventory.Items.CreateItem(ctx, price)
	require.NoError(t, err)
	if stock > 0 {
		require.NoError(t, s.inventory.Items.AddStock(ctx, itemID, stock))
	}
	return itemID
}

// The readers below run inside Eventually conditions and report a failed
// lookup as a sentinel value instead of failing the test.

func (s *system) credit(userID string) int64 {
	acc, err := s.payment.Accounts.FindUser(context.Background(), userID)
	if err != nil {
		return -1
	}
	return acc.Credit
}

func (s *system) stock(itemID string) int64 {
	item, err := s.inventory.Items.FindItem(context.Background(), itemID)
	if err != nil {
		return -1
	}
	return item.Stock
}

func (s *system) find(orderID string) repository.Order {
	o, _ := s.order.Orders.Find(context.Background(), orderID)
	return o
}

func (s *system) compensated(orderID string) bool {
	o := s.find(orderID)
	return o.State() == repository.StateRejected && o.Compensation != nil && o.Compensation.Issued
}

// checkout places an order through the order HTTP API.
func (s *system) checkout(t *testing.T, userID string, lines map[string]int64) string {
	t.Helper()
	base := "http://" + s.order.HTTPAddr()

	var created map[string]string
	require.Equal(t, http.StatusOK, post(t, base+"/create/"+userID, &created))
	orderID := created["order_id"]
	for itemID, qty := range lines {
		require.Equal(t, http.StatusOK, post(t, base+"/addItem/"+orderID+"/"+itemID+"/"+strconv.FormatInt(qty, 10), nil))
	}
	require.Equal(t, http.StatusAccepted, post(t, base+"/checkout/"+orderID, nil))
	return orderID
}

// stockOutage rejects publishes to the stock topic while down is set.
type stockOutage struct {
	*busmemory.Broker
	down atomic.Bool
}

func (b *stockOutage) Publish(ctx context.Context, msg bus.Message) error {
	if b.down.Load() && msg.Topic == event.TopicStock {
		return bus.ErrUnavailable
	}
	return b.Broker.Publish(ctx, msg)
}

func post(t *testing.T, url string, out any) int {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSaga_Confirmed(t *testing.T) {
	s := start(t)
	userID := s.user(t, 15)
	itemID := s.item(t, 5, 10)

	orderID := s.checkout(t, userID, map[string]int64{itemID: 3})

	require.Eventually(t, func() bool {
		return s.find(orderID).State() == repository.StateConfirmed
	}, waitFor, tick)
	require.Equal(t, int64(0), s.credit(userID))
	require.Equal(t, int64(7), s.stock(itemID))
}

func TestSaga_PaymentRejectedReleasesStock(t *testing.T) {
	s := start(t)
	userID := s.user(t, 5)
	itemID := s.item(t, 5, 10)

	orderID := s.checkout(t, userID, map[string]int64{itemID: 3})

	require.Eventually(t, func() bool { return s.compensated(orderID) }, waitFor, tick)
	require.Eventually(t, func() bool { return s.stock(itemID) == 10 }, waitFor, tick)
	require.Equal(t, int64(5), s.credit(userID))

	o := s.find(orderID)
	require.Equal(t, repository.StatusRejected, o.PaymentStatus)
	require.Equal(t, repository.StatusApproved, o.StockStatus)
}

func TestSaga_StockRejectedRestoresCredit(t *testing.T) {
	s := start(t)
	userID := s.user(t, 100)
	plenty := s.item(t, 5, 10)
	scarce := s.item(t, 5, 1)

	orderID := s.checkout(t, userID, map[string]int64{plenty: 2, scarce: 3})

	require.Eventually(t, func() bool { return s.compensated(orderID) }, waitFor, tick)
	require.Eventually(t, func() bool { return s.credit(userID) == 100 }, waitFor, tick)

	// all or nothing: the line that fit was not taken either
	require.Equal(t, int64(10), s.stock(plenty))
	require.Equal(t, int64(1), s.stock(scarce))
}

func TestSaga_RedeliveredStockRequestAppliesOnce(t *testing.T) {
	s := start(t)
	itemID := s.item(t, 5, 10)
	ctx := context.Background()

	req := event.ReserveStock{OrderID: "order-redelivered", Items: []event.LineItem{{ItemID: itemID, Quantity: 3}}}
	require.NoError(t, bus.PublishEvent(ctx, s.broker, req))
	require.NoError(t, bus.PublishEvent(ctx, s.broker, req))

	require.Eventually(t, func() bool {
		return len(s.broker.Published(event.TopicOrder)) == 2
	}, waitFor, tick)
	require.Equal(t, int64(7), s.stock(itemID))

	for _, msg := range s.broker.Published(event.TopicOrder) {
		d, err := event.Decode(msg.Body)
		require.NoError(t, err)
		require.Equal(t, event.KindStockReserved, d.Kind)
	}
}

func TestSaga_LateOutcomeDoesNotReopenOrder(t *testing.T) {
	s := start(t)
	userID := s.user(t, 10)
	itemID := s.item(t, 5, 10)

	orderID := s.checkout(t, userID, map[string]int64{itemID: 2})
	require.Eventually(t, func() bool {
		return s.find(orderID).State() == repository.StateConfirmed
	}, waitFor, tick)

	stray := event.PaymentRejected{OrderID: orderID, Reason: event.ReasonInsufficientCredit}
	require.NoError(t, bus.PublishEvent(context.Background(), s.broker, stray))

	require.Eventually(t, func() bool { return s.broker.Pending(event.TopicOrder) == 0 }, waitFor, tick)
	require.Never(t, func() bool {
		return s.find(orderID).State() != repository.StateConfirmed
	}, 200*time.Millisecond, tick)
	require.Equal(t, int64(0), s.credit(userID))
	require.Equal(t, int64(8), s.stock(itemID))
}

func TestSaga_MalformedEventIsDeadLettered(t *testing.T) {
	s := start(t)

	require.NoError(t, s.broker.Publish(context.Background(), bus.Message{
		Topic: event.TopicPayment,
		Key:   "order-x",
		Body:  []byte(`{"kind":"ReservePayment","version":1,"payload":{"order_id":""}}`),
	}))

	require.Eventually(t, func() bool {
		return len(s.broker.Published("saga.dlq")) == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool { return s.broker.Pending(event.TopicPayment) == 0 }, waitFor, tick)
	require.Empty(t, s.broker.Published(event.TopicOrder))
}

func TestSaga_CheckoutSurvivesStockOutage(t *testing.T) {
	t.Setenv("BUS_BREAKER_ENABLED", "false")
	t.Setenv("CHECKOUT_PUBLISH_MAX_ATTEMPTS", "2")
	t.Setenv("CHECKOUT_PUBLISH_BACKOFF", "1ms")
	t.Setenv("CHECKOUT_RESUME_INTERVAL", "20ms")
	t.Setenv("CHECKOUT_RESUME_MIN_AGE", "0s")

	outage := &stockOutage{}
	outage.down.Store(true)
	s := startWith(t, func(b *busmemory.Broker) bus.Bus {
		outage.Broker = b
		return outage
	})
	userID := s.user(t, 15)
	itemID := s.item(t, 5, 10)
	base := "http://" + s.order.HTTPAddr()

	var created map[string]string
	require.Equal(t, http.StatusOK, post(t, base+"/create/"+userID, &created))
	orderID := created["order_id"]
	require.Equal(t, http.StatusOK, post(t, base+"/addItem/"+orderID+"/"+itemID+"/3", nil))
	require.Equal(t, http.StatusServiceUnavailable, post(t, base+"/checkout/"+orderID, nil))

	// payment went out, stock did not
	require.Eventually(t, func() bool { return s.credit(userID) == 0 }, waitFor, tick)
	require.Equal(t, repository.StateCheckedOut, s.find(orderID).State())
	require.Equal(t, int64(10), s.stock(itemID))

	outage.down.Store(false)

	require.Eventually(t, func() bool {
		return s.find(orderID).State() == repository.StateConfirmed
	}, waitFor, tick)
	require.Equal(t, int64(7), s.stock(itemID))
	require.Len(t, s.broker.Published(event.TopicPayment), 1)
}
