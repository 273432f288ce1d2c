package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"

	platformconfig "github.com/Nobert1/event-driven-systems/platform/config"
)

// Inventory locates the inventory HTTP API used to price order lines.
type Inventory struct {
	URL     string        `env:"INVENTORY_URL"`
	Timeout time.Duration `env:"INVENTORY_TIMEOUT" envDefault:"3s"`
}

// Checkout tunes how reservation requests reach the bus.
type Checkout struct {
	// PublishMaxAttempts and PublishBackoff bound each publish inside a
	// checkout or compensation call.
	PublishMaxAttempts int           `env:"CHECKOUT_PUBLISH_MAX_ATTEMPTS" envDefault:"3"`
	PublishBackoff     time.Duration `env:"CHECKOUT_PUBLISH_BACKOFF" envDefault:"100ms"`
	// The resume loop republishes what a checkout left behind.
	ResumeInterval  time.Duration `env:"CHECKOUT_RESUME_INTERVAL" envDefault:"5s"`
	ResumeMinAge    time.Duration `env:"CHECKOUT_RESUME_MIN_AGE" envDefault:"5s"`
	ResumeBatchSize int           `env:"CHECKOUT_RESUME_BATCH" envDefault:"100"`
}

type Config struct {
	platformconfig.Common
	Inventory Inventory
	Checkout  Checkout
}

// Load reads the environment. APP_ENV selects the local or docker defaults.
func Load() (Config, error) {
	common, err := platformconfig.LoadCommon(platformconfig.Defaults{
		LocalHTTPAddr:  "127.0.0.1:8081",
		DockerHTTPAddr: "0.0.0.0:8081",
		KafkaGroupID:   "order",
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{Common: common}
	if err := env.Parse(&cfg.Inventory); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := env.Parse(&cfg.Checkout); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Inventory.URL == "" {
		cfg.Inventory.URL = "http://127.0.0.1:8083"
		if cfg.App.Env == platformconfig.EnvDocker {
			cfg.Inventory.URL = "http://inventory:8083"
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.Inventory.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid INVENTORY_URL: %q", c.Inventory.URL)
	}
	if c.Inventory.Timeout <= 0 {
		return fmt.Errorf("INVENTORY_TIMEOUT must be positive")
	}
	if c.Checkout.PublishMaxAttempts <= 0 {
		return fmt.Errorf("CHECKOUT_PUBLISH_MAX_ATTEMPTS must be positive")
	}
	if c.Checkout.PublishBackoff <= 0 {
		return fmt.Errorf("CHECKOUT_PUBLISH_BACKOFF must be positive")
	}
	if c.Checkout.ResumeInterval <= 0 {
		return fmt.Errorf("CHECKOUT_RESUME_INTERVAL must be positive")
	}
	if c.Checkout.ResumeMinAge < 0 {
		return fmt.Errorf("CHECKOUT_RESUME_MIN_AGE must not be negative")
	}
	if c.Checkout.ResumeBatchSize <= 0 {
		return fmt.Errorf("CHECKOUT_RESUME_BATCH must be positive")
	}
	return nil
}
