package app

import (
	"go.uber.org/zap"

	httpapi "github.com/Nobert1/event-driven-systems/internal/inventory/api/http"
	"github.com/Nobert1/event-driven-systems/internal/inventory/config"
	"github.com/Nobert1/event-driven-systems/internal/inventory/handler"
	"github.com/Nobert1/event-driven-systems/internal/inventory/repository/store"
	"github.com/Nobert1/event-driven-systems/internal/inventory/service"
	platformapp "github.com/Nobert1/event-driven-systems/platform/app"
	"github.com/Nobert1/event-driven-systems/platform/event"
)

// App is the inventory service: the stock ledger behind the stock topic
// consumer and the HTTP API.
type App struct {
	*platformapp.Base
	Items *service.InventoryService
}

func Build(cfg config.Config, opts platformapp.Options) (*App, error) {
	base, err := platformapp.NewBase("inventory", cfg.Common, opts)
	if err != nil {
		return nil, err
	}

	items := service.NewInventoryService(base.Logger, store.NewRepository(base.Store))

	h := handler.New(base.Logger, items, base.Publisher, base.Metrics)
	base.Consume(event.TopicStock, h.Handle)

	base.Serve(httpapi.NewRouter(httpapi.NewHandler(items, base.Logger), base.HealthChecks(), base.Logger))

	base.Logger.Info("inventory service configured", zap.String("topic", event.TopicStock))
	return &App{Base: base, Items: items}, nil
}
