package config

import (
	"testing"

	platformconfig "github.com/Nobert1/event-driven-systems/platform/config"
)

func TestLoad_LocalDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Env != platformconfig.EnvLocal {
		t.Errorf("Expected AppEnv=local, got %s", cfg.App.Env)
	}
	if cfg.App.HTTPAddr != "127.0.0.1:8082" {
		t.Errorf("Expected HTTPAddr=127.0.0.1:8082, got %s", cfg.App.HTTPAddr)
	}
	if cfg.Bus.Kafka.GroupID != "payment" {
		t.Errorf("Expected KafkaGroupID=payment, got %s", cfg.Bus.Kafka.GroupID)
	}
}

func TestLoad_DockerDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "docker")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.HTTPAddr != "0.0.0.0:8082" {
		t.Errorf("Expected HTTPAddr=0.0.0.0:8082, got %s", cfg.App.HTTPAddr)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for invalid APP_ENV")
	}
}
