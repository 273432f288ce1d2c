package kafka

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Config holds the Kafka connection settings.
type Config struct {
	// Brokers is a comma separated list: localhost:19092 locally, kafka:9092 in docker.
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	// GroupID is the consumer group. Instances of one service share it so that
	// they compete for messages.
	GroupID string `env:"KAFKA_GROUP_ID"`
}

// DefaultConfig returns local development defaults.
func DefaultConfig() Config {
	return Config{
		Brokers: []string{"localhost:19092"},
	}
}

// LoadEnv overrides cfg from environment variables.
func LoadEnv(cfg *Config) error {
	return env.Parse(cfg)
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("KAFKA_GROUP_ID is required")
	}
	return nil
}
