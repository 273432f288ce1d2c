package config

import (
	platformconfig "github.com/Nobert1/event-driven-systems/platform/config"
)

// Config is the payment service configuration. Everything it needs is in the
// shared blocks; the service only picks its own address and consumer group.
type Config struct {
	platformconfig.Common
}

// Load reads the environment. APP_ENV selects the local or docker defaults.
func Load() (Config, error) {
	common, err := platformconfig.LoadCommon(platformconfig.Defaults{
		LocalHTTPAddr:  "127.0.0.1:8082",
		DockerHTTPAddr: "0.0.0.0:8082",
		KafkaGroupID:   "payment",
	})
	if err != nil {
		return Config{}, err
	}
	return Config{Common: common}, nil
}
