package app

import (
	"go.uber.org/zap"

	httpapi "github.com/Nobert1/event-driven-systems/internal/order/api/http"
	httpclient "github.com/Nobert1/event-driven-systems/internal/order/client/http"
	"github.com/Nobert1/event-driven-systems/internal/order/config"
	"github.com/Nobert1/event-driven-systems/internal/order/dispatcher"
	"github.com/Nobert1/event-driven-systems/internal/order/reconciler"
	"github.com/Nobert1/event-driven-systems/internal/order/repository/store"
	"github.com/Nobert1/event-driven-systems/internal/order/service"
	platformapp "github.com/Nobert1/event-driven-systems/platform/app"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/retry"
)

// Options extends the shared options with an inventory client, so tests can
// price lines without an inventory HTTP server.
type Options struct {
	platformapp.Options
	Inventory service.InventoryClient
}

// App is the order service: the order aggregate, checkout coordinator and
// reconciler of the order topic.
type App struct {
	*platformapp.Base
	Orders *service.OrderService
}

func Build(cfg config.Config, opts Options) (*App, error) {
	base, err := platformapp.NewBase("order", cfg.Common, opts.Options)
	if err != nil {
		return nil, err
	}

	inventory := opts.Inventory
	if inventory == nil {
		inventory = httpclient.NewInventoryClient(base.Logger, cfg.Inventory.URL, cfg.Inventory.Timeout)
		base.Logger.Info("inventory client configured",
			zap.String("inventory_url", cfg.Inventory.URL),
			zap.Duration("timeout", cfg.Inventory.Timeout),
		)
	}

	orders := service.NewOrderService(base.Logger, store.NewRepository(base.Store), inventory, base.Publisher,
		service.WithPublishPolicy(retry.Policy{
			MaxAttempts: cfg.Checkout.PublishMaxAttempts,
			BackoffBase: cfg.Checkout.PublishBackoff,
		}),
	)

	resumer := dispatcher.NewCheckoutDispatcher(
		base.Logger.With(zap.String("component", "checkout_dispatcher")),
		orders,
		cfg.Checkout.ResumeBatchSize,
		cfg.Checkout.ResumeInterval,
		cfg.Checkout.ResumeMinAge,
	)
	base.Background("checkout_dispatcher", resumer.Start)

	rec := reconciler.New(base.Logger, orders, base.Metrics)
	base.Consume(event.TopicOrder, rec.Handle)

	base.Serve(httpapi.NewRouter(httpapi.NewHandler(orders, base.Logger), base.HealthChecks(), base.Logger))

	return &App{Base: base, Orders: orders}, nil
}
