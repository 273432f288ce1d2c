// Package config holds the env blocks every saga service shares. Each service
// embeds them in its own Config and adds what is specific to it.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/bus/kafka"
	"github.com/Nobert1/event-driven-systems/platform/bus/rabbitmq"
	"github.com/Nobert1/event-driven-systems/platform/consumer"
	"github.com/Nobert1/event-driven-systems/platform/kv/mongo"
	"github.com/Nobert1/event-driven-systems/platform/kv/postgres"
	"github.com/Nobert1/event-driven-systems/platform/kv/redis"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

// Env is the deployment environment.
type Env string

const (
	// EnvLocal is a process on the developer host.
	EnvLocal Env = "local"
	// EnvDocker is a container in the compose network.
	EnvDocker Env = "docker"
)

type App struct {
	Env             Env           `env:"APP_ENV" envDefault:"local"`
	LogLevel        string        `env:"LOG_LEVEL"`
	LogFormat       string        `env:"LOG_FORMAT"`
	HTTPAddr        string        `env:"HTTP_ADDR"`
	GRPCHealthAddr  string        `env:"GRPC_HEALTH_ADDR"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

type Store struct {
	Backend  string `env:"STORE_BACKEND" envDefault:"memory"`
	Redis    redis.Config
	Postgres postgres.Config
	Mongo    mongo.Config
}

const (
	BusMemory   = "memory"
	BusKafka    = "kafka"
	BusRabbitMQ = "rabbitmq"
)

type Bus struct {
	Backend        string `env:"BUS_BACKEND" envDefault:"memory"`
	DLQTopic       string `env:"BUS_DLQ_TOPIC" envDefault:"saga.dlq"`
	BreakerEnabled bool   `env:"BUS_BREAKER_ENABLED" envDefault:"true"`
	Kafka          kafka.Config
	RabbitMQ       rabbitmq.Config
}

// Common is embedded by every service config.
type Common struct {
	App           App
	Store         Store
	Bus           Bus
	Consumer      consumer.Config
	Observability observability.Config
}

// Defaults per environment for one service.
type Defaults struct {
	LocalHTTPAddr  string
	DockerHTTPAddr string
	KafkaGroupID   string
}

// LoadCommon parses the shared blocks and fills environment dependent defaults.
func LoadCommon(d Defaults) (Common, error) {
	var c Common
	if err := env.Parse(&c); err != nil {
		return Common{}, fmt.Errorf("parse env: %w", err)
	}
	c.applyDefaults(d)
	if err := c.Validate(); err != nil {
		return Common{}, err
	}
	return c, nil
}

func (c *Common) applyDefaults(d Defaults) {
	docker := c.App.Env == EnvDocker

	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = d.LocalHTTPAddr
		if docker {
			c.App.HTTPAddr = d.DockerHTTPAddr
		}
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "console"
		if docker {
			c.App.LogFormat = "json"
		}
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if len(c.Bus.Kafka.Brokers) == 0 {
		c.Bus.Kafka.Brokers = kafka.DefaultConfig().Brokers
		if docker {
			c.Bus.Kafka.Brokers = []string{"kafka:9092"}
		}
	}
	if c.Bus.Kafka.GroupID == "" {
		c.Bus.Kafka.GroupID = d.KafkaGroupID
	}
}

func (c Common) Validate() error {
	if c.App.Env != EnvLocal && c.App.Env != EnvDocker {
		return fmt.Errorf("invalid APP_ENV: %s (must be 'local' or 'docker')", c.App.Env)
	}
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.App.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for STORE_BACKEND=redis")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for STORE_BACKEND=postgres")
		}
	case StoreMongo:
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			return fmt.Errorf("MONGO_URI and MONGO_DATABASE are required for STORE_BACKEND=mongo")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND: %s (must be memory, redis, postgres or mongo)", c.Store.Backend)
	}

	switch c.Bus.Backend {
	case BusMemory:
	case BusKafka:
		if err := c.Bus.Kafka.Validate(); err != nil {
			return err
		}
	case BusRabbitMQ:
		if c.Bus.RabbitMQ.URL == "" {
			return fmt.Errorf("AMQP_URL is required for BUS_BACKEND=rabbitmq")
		}
	default:
		return fmt.Errorf("invalid BUS_BACKEND: %s (must be memory, kafka or rabbitmq)", c.Bus.Backend)
	}
	if c.Bus.DLQTopic == "" {
		return fmt.Errorf("BUS_DLQ_TOPIC is required")
	}

	if c.Consumer.MaxAttempts <= 0 {
		return fmt.Errorf("CONSUMER_MAX_ATTEMPTS must be positive")
	}
	if c.Consumer.BackoffBase <= 0 {
		return fmt.Errorf("CONSUMER_BACKOFF_BASE must be positive")
	}
	if r := c.Observability.SamplingRatio; r < 0 || r > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be in [0, 1]")
	}
	return nil
}

// Log writes the effective configuration with credentials masked.
func (c Common) Log(logger *zap.Logger) {
	logger.Info("config loaded",
		zap.String("app_env", string(c.App.Env)),
		zap.String("http_addr", c.App.HTTPAddr),
		zap.String("grpc_health_addr", c.App.GRPCHealthAddr),
		zap.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		zap.String("store_backend", c.Store.Backend),
		zap.String("redis_addr", c.Store.Redis.Addr),
		zap.String("postgres_dsn", MaskDSN(c.Store.Postgres.DSN)),
		zap.String("mongo_uri", MaskDSN(c.Store.Mongo.URI)),
		zap.String("bus_backend", c.Bus.Backend),
		zap.Strings("kafka_brokers", c.Bus.Kafka.Brokers),
		zap.String("kafka_group_id", c.Bus.Kafka.GroupID),
		zap.String("amqp_url", MaskDSN(c.Bus.RabbitMQ.URL)),
		zap.String("dlq_topic", c.Bus.DLQTopic),
		zap.Bool("breaker_enabled", c.Bus.BreakerEnabled),
		zap.Int("consumer_max_attempts", c.Consumer.MaxAttempts),
		zap.Duration("consumer_backoff_base", c.Consumer.BackoffBase),
		zap.Bool("otel_enabled", c.Observability.Enabled),
	)
}

// MaskDSN hides the password of a URL style connection string.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); !ok {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return strings.Replace(u.String(), "xxxxx", "***", 1)
}
