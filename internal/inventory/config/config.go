package config

import (
	platformconfig "github.com/Nobert1/event-driven-systems/platform/config"
)

type Config struct {
	platformconfig.Common
}

// Load reads the environment. APP_ENV selects the local or docker defaults.
func Load() (Config, error) {
	common, err := platformconfig.LoadCommon(platformconfig.Defaults{
		LocalHTTPAddr:  "127.0.0.1:8083",
		DockerHTTPAddr: "0.0.0.0:8083",
		KafkaGroupID:   "inventory",
	})
	if err != nil {
		return Config{}, err
	}
	return Config{Common: common}, nil
}
