package httpapi

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/Nobert1/event-driven-systems/platform/health/http"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

// NewRouter wires the order routes. checks feed GET /health.
func NewRouter(handler *Handler, checks map[string]platformhealth.Check, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(observability.HTTPMiddleware("order", logger))

	router.Post("/create/{user_id}", handler.PostCreate)
	router.Post("/addItem/{order_id}/{item_id}/{quantity}", handler.PostAddItem)
	router.Post("/checkout/{order_id}", handler.PostCheckout)
	router.Get("/find/{order_id}", handler.GetFind)
	router.Post("/batch_init/{n}/{n_items}/{n_users}/{item_price}", handler.PostBatchInit)

	router.Get("/health", platformhealth.Handler(checks))
	return router
}
