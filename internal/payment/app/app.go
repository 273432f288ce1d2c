package app

import (
	"go.uber.org/zap"

	httpapi "github.com/Nobert1/event-driven-systems/internal/payment/api/http"
	"github.com/Nobert1/event-driven-systems/internal/payment/config"
	"github.com/Nobert1/event-driven-systems/internal/payment/handler"
	"github.com/Nobert1/event-driven-systems/internal/payment/repository/store"
	"github.com/Nobert1/event-driven-systems/internal/payment/service"
	platformapp "github.com/Nobert1/event-driven-systems/platform/app"
	"github.com/Nobert1/event-driven-systems/platform/event"
)

// App is the payment service: the account ledger behind the payment topic
// consumer and the HTTP API.
type App struct {
	*platformapp.Base
	Accounts *service.AccountService
}

// Build wires the payment service.
func Build(cfg config.Config, opts platformapp.Options) (*App, error) {
	base, err := platformapp.NewBase("payment", cfg.Common, opts)
	if err != nil {
		return nil, err
	}
	logger := base.Logger.With(zap.String("op", "app.Build"))

	accounts := service.NewAccountService(base.Logger, store.NewRepository(base.Store))

	h := handler.New(base.Logger, accounts, base.Publisher, base.Metrics)
	base.Consume(event.TopicPayment, h.Handle)

	router := httpapi.NewRouter(httpapi.NewHandler(accounts, base.Logger), base.HealthChecks(), base.Logger)
	base.Serve(router)

	logger.Info("payment service configured")
	return &App{Base: base, Accounts: accounts}, nil
}
