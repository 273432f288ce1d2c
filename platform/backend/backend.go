// Package backend opens the store and bus a service is configured with and
// registers their release with the shutdown manager.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/bus"
	"github.com/Nobert1/event-driven-systems/platform/bus/kafka"
	busmemory "github.com/Nobert1/event-driven-systems/platform/bus/memory"
	"github.com/Nobert1/event-driven-systems/platform/bus/rabbitmq"
	"github.com/Nobert1/event-driven-systems/platform/config"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/kv"
	kvmemory "github.com/Nobert1/event-driven-systems/platform/kv/memory"
	kvmongo "github.com/Nobert1/event-driven-systems/platform/kv/mongo"
	kvpostgres "github.com/Nobert1/event-driven-systems/platform/kv/postgres"
	kvredis "github.com/Nobert1/event-driven-systems/platform/kv/redis"
	"github.com/Nobert1/event-driven-systems/platform/shutdown"
)

// OpenStore connects the configured kv backend.
func OpenStore(ctx context.Context, cfg config.Store, logger *zap.Logger, mgr *shutdown.Manager) (kv.Store, error) {
	logger.Info("opening store", zap.String("backend", cfg.Backend))

	switch cfg.Backend {
	case config.StoreMemory:
		return kvmemory.NewStore(), nil
	case config.StoreRedis:
		s, err := kvredis.Open(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		mgr.Add("redis", shutdown.Close(s))
		return s, nil
	case config.StorePostgres:
		s, err := kvpostgres.Open(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		mgr.Add("postgres", shutdown.Close(s))
		return s, nil
	case config.StoreMongo:
		s, err := kvmongo.Open(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		mgr.Add("mongo", shutdown.DisconnectMongo(s.Client()))
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// OpenBus connects the configured broker. Saga topics and the DLQ topic are
// declared up front where the broker needs it.
func OpenBus(ctx context.Context, cfg config.Bus, logger *zap.Logger, mgr *shutdown.Manager) (bus.Bus, error) {
	logger.Info("opening bus", zap.String("backend", cfg.Backend))

	var (
		b   bus.Bus
		err error
	)
	switch cfg.Backend {
	case config.BusMemory:
		b = busmemory.NewBroker()
	case config.BusKafka:
		b, err = kafka.New(cfg.Kafka, logger)
	case config.BusRabbitMQ:
		b, err = rabbitmq.New(cfg.RabbitMQ, logger,
			event.TopicOrder, event.TopicPayment, event.TopicStock, cfg.DLQTopic)
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("bus ping: %w", err)
	}
	mgr.Add("bus", shutdown.Close(b))
	return b, nil
}

// Publisher returns p behind a circuit breaker when enabled.
func Publisher(p bus.Publisher, cfg config.Bus, name string, logger *zap.Logger) bus.Publisher {
	if !cfg.BreakerEnabled {
		return p
	}
	return bus.NewBreakerPublisher(p, name, logger)
}
