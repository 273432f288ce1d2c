package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/Nobert1/event-driven-systems/internal/payment/app"
	"github.com/Nobert1/event-driven-systems/internal/payment/config"
	platformapp "github.com/Nobert1/event-driven-systems/platform/app"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	a, err := app.Build(cfg, platformapp.Options{})
	if err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	if err := a.Run(); err != nil {
		log.Fatalf("Payment service failed: %v", err)
	}
}
