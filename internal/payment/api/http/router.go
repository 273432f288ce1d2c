package httpapi

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/Nobert1/event-driven-systems/platform/health/http"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

// NewRouter wires the payment routes. checks feed GET /health.
func NewRouter(handler *Handler, checks map[string]platformhealth.Check, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(observability.HTTPMiddleware("payment", logger))

	router.Post("/create_user", handler.PostCreateUser)
	router.Get("/find_user/{user_id}", handler.GetFindUser)
	router.Post("/add_funds/{user_id}/{amount}", handler.PostAddFunds)
	router.Post("/pay/{user_id}/{amount}", handler.PostPay)
	router.Post("/batch_init/{n}/{starting_money}", handler.PostBatchInit)

	router.Get("/health", platformhealth.Handler(checks))
	return router
}
