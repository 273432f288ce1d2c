package httpapi

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/Nobert1/event-driven-systems/platform/health/http"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

func NewRouter(handler *Handler, checks map[string]platformhealth.Check, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(observability.HTTPMiddleware("inventory", logger))

	router.Post("/item/create/{price}", handler.PostCreateItem)
	router.Get("/find/{item_id}", handler.GetFindItem)
	router.Post("/add/{item_id}/{amount}", handler.PostAddStock)
	router.Post("/subtract/{item_id}/{amount}", handler.PostSubtractStock)
	router.Post("/batch_init/{n}/{starting_stock}/{item_price}", handler.PostBatchInit)

	router.Get("/health", platformhealth.Handler(checks))
	return router
}
