package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/order/repository"
	"github.com/Nobert1/event-driven-systems/internal/order/repository/store"
	"github.com/Nobert1/event-driven-systems/internal/order/service"
	"github.com/Nobert1/event-driven-systems/platform/bus"
	busmemory "github.com/Nobert1/event-driven-systems/platform/bus/memory"
	"github.com/Nobert1/event-driven-systems/platform/bus/mocks"
	"github.com/Nobert1/event-driven-systems/platform/consumer"
	"github.com/Nobert1/event-driven-systems/platform/event"
	kvmemory "github.com/Nobert1/event-driven-systems/platform/kv/memory"
	"github.com/Nobert1/event-driven-systems/platform/retry"
)

type flatPrice struct{}

func (flatPrice) ItemPrice(context.Context, string) (int64, error) { return 10, nil }

func decoded(t *testing.T, e event.Event) event.Decoded {
	t.Helper()
	body, err := event.Encode(e)
	require.NoError(t, err)
	d, err := event.Decode(body)
	require.NoError(t, err)
	return d
}

func TestReconciler_Scenarios(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		outcomes    func(orderID string) []event.Event
		wantState   repository.State
		wantRelease []event.Kind
	}{
		{
			name: "both reserved confirms",
			outcomes: func(id string) []event.Event {
				return []event.Event{event.PaymentReserved{OrderID: id}, event.StockReserved{OrderID: id}}
			},
			wantState: repository.StateConfirmed,
		},
		{
			name: "stock rejected releases payment",
			outcomes: func(id string) []event.Event {
				return []event.Event{
					event.PaymentReserved{OrderID: id},
					event.StockRejected{OrderID: id, Reason: event.ReasonInsufficientStock},
				}
			},
			wantState:   repository.StateRejected,
			wantRelease: []event.Kind{event.KindReleasePayment},
		},
		{
			name: "payment rejected releases stock",
			outcomes: func(id string) []event.Event {
				return []event.Event{
					event.StockReserved{OrderID: id},
					event.PaymentRejected{OrderID: id, Reason: event.ReasonInsufficientCredit},
				}
			},
			wantState:   repository.StateRejected,
			wantRelease: []event.Kind{event.KindReleaseStock},
		},
		{
			name: "both rejected releases nothing",
			outcomes: func(id string) []event.Event {
				return []event.Event{
					event.PaymentRejected{OrderID: id, Reason: event.ReasonAccountNotFound},
					event.StockRejected{OrderID: id, Reason: event.ReasonItemNotFound},
				}
			},
			wantState: repository.StateRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := busmemory.NewBroker()
			orders := service.NewOrderService(zap.NewNop(), store.NewRepository(kvmemory.NewStore()), flatPrice{}, broker)
			orderID, err := orders.Create(ctx, "user-1")
			require.NoError(t, err)
			_, err = orders.AddItem(ctx, orderID, "item-a", 2)
			require.NoError(t, err)
			_, err = orders.Checkout(ctx, orderID)
			require.NoError(t, err)
			rec := New(zap.NewNop(), orders, nil)

			for _, e := range tt.outcomes(orderID) {
				// every outcome is delivered twice
				require.NoError(t, rec.Handle(ctx, decoded(t, e)))
				require.NoError(t, rec.Handle(ctx, decoded(t, e)))
			}

			o, err := orders.Find(ctx, orderID)
			require.NoError(t, err)
			require.Equal(t, tt.wantState, o.State())

			var releases []event.Kind
			for _, topic := range []string{event.TopicPayment, event.TopicStock} {
				for _, msg := range broker.Published(topic) {
					d, err := event.Decode(msg.Body)
					require.NoError(t, err)
					if d.Kind == event.KindReleasePayment || d.Kind == event.KindReleaseStock {
						releases = append(releases, d.Kind)
					}
				}
			}
			require.Equal(t, tt.wantRelease, releases)
		})
	}
}

func TestReconciler_ReleaseRetriedUntilPublished(t *testing.T) {
	ctx := context.Background()
	pub := mocks.NewPublisher(t)
	isReservation := mock.MatchedBy(func(m bus.Message) bool { return m.Headers["kind"] == string(event.KindReservePayment) || m.Headers["kind"] == string(event.KindReserveStock) })
	isRelease := mock.MatchedBy(func(m bus.Message) bool { return m.Headers["kind"] == string(event.KindReleasePayment) })
	pub.On("Publish", mock.Anything, isReservation).Return(nil).Twice()
	// the bus stays down for every attempt of the first delivery
	policy := retry.Policy{MaxAttempts: 2, BackoffBase: time.Millisecond}
	pub.On("Publish", mock.Anything, isRelease).Return(bus.ErrUnavailable).Times(policy.MaxAttempts)
	pub.On("Publish", mock.Anything, isRelease).Return(nil).Once()

	orders := service.NewOrderService(zap.NewNop(), store.NewRepository(kvmemory.NewStore()), flatPrice{}, pub,
		service.WithPublishPolicy(policy))
	orderID, err := orders.Create(ctx, "user-1")
	require.NoError(t, err)
	_, err = orders.AddItem(ctx, orderID, "item-a", 1)
	require.NoError(t, err)
	_, err = orders.Checkout(ctx, orderID)
	require.NoError(t, err)
	rec := New(zap.NewNop(), orders, nil)

	require.NoError(t, rec.Handle(ctx, decoded(t, event.PaymentReserved{OrderID: orderID})))
	rejected := decoded(t, event.StockRejected{OrderID: orderID, Reason: event.ReasonInsufficientStock})

	err = rec.Handle(ctx, rejected)
	require.ErrorIs(t, err, bus.ErrUnavailable)
	require.False(t, consumer.IsPermanent(err))

	o, err := orders.Find(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, repository.StateRejected, o.State())
	require.False(t, o.Compensation.Issued)

	// the redelivered outcome changes nothing but publishes the owed release
	require.NoError(t, rec.Handle(ctx, rejected))
	o, err = orders.Find(ctx, orderID)
	require.NoError(t, err)
	require.True(t, o.Compensation.Issued)
}

func TestReconciler_UnknownOrderIsAcknowledged(t *testing.T) {
	orders := service.NewOrderService(zap.NewNop(), store.NewRepository(kvmemory.NewStore()), flatPrice{}, busmemory.NewBroker())
	rec := New(zap.NewNop(), orders, nil)

	err := rec.Handle(context.Background(), decoded(t, event.PaymentReserved{OrderID: "order-unknown"}))
	require.True(t, consumer.IsPermanent(err))
	require.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestReconciler_UnexpectedKind(t *testing.T) {
	orders := service.NewOrderService(zap.NewNop(), store.NewRepository(kvmemory.NewStore()), flatPrice{}, busmemory.NewBroker())
	rec := New(zap.NewNop(), orders, nil)

	err := rec.Handle(context.Background(), decoded(t, event.ReservePayment{OrderID: "order-1", UserID: "u", Amount: 1}))
	require.True(t, errors.Is(err, event.ErrMalformed))
}
