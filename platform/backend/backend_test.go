package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/bus"
	busmemory "github.com/Nobert1/event-driven-systems/platform/bus/memory"
	"github.com/Nobert1/event-driven-systems/platform/config"
	"github.com/Nobert1/event-driven-systems/platform/kv"
	"github.com/Nobert1/event-driven-systems/platform/shutdown"
)

func TestOpenMemoryBackends(t *testing.T) {
	ctx := context.Background()
	mgr := shutdown.New(time.Second, zap.NewNop())

	store, err := OpenStore(ctx, config.Store{Backend: config.StoreMemory}, zap.NewNop(), mgr)
	require.NoError(t, err)
	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, kv.ErrNotFound)

	b, err := OpenBus(ctx, config.Bus{Backend: config.BusMemory, DLQTopic: "saga.dlq"}, zap.NewNop(), mgr)
	require.NoError(t, err)
	require.NoError(t, b.Ping(ctx))

	mgr.Shutdown()
	require.ErrorIs(t, b.Ping(ctx), bus.ErrClosed)
}

func TestOpenUnknownBackend(t *testing.T) {
	ctx := context.Background()
	mgr := shutdown.New(time.Second, zap.NewNop())

	_, err := OpenStore(ctx, config.Store{Backend: "etcd"}, zap.NewNop(), mgr)
	require.Error(t, err)
	_, err = OpenBus(ctx, config.Bus{Backend: "nats"}, zap.NewNop(), mgr)
	require.Error(t, err)
}

func TestPublisher_Breaker(t *testing.T) {
	broker := busmemory.NewBroker()

	plain := Publisher(broker, config.Bus{BreakerEnabled: false}, "order", zap.NewNop())
	require.Same(t, broker, plain)

	wrapped := Publisher(broker, config.Bus{BreakerEnabled: true}, "order", zap.NewNop())
	require.IsType(t, &bus.BreakerPublisher{}, wrapped)
	require.NoError(t, wrapped.Publish(context.Background(), bus.Message{Topic: "order"}))
	require.Len(t, broker.Published("order"), 1)
}
