package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/inventory/repository"
	"github.com/Nobert1/event-driven-systems/internal/inventory/service"
	"github.com/Nobert1/event-driven-systems/platform/httpapi"
)

// Items is what the HTTP layer needs from the inventory service.
type Items interface {
	CreateItem(ctx context.Context, price int64) (string, error)
	FindItem(ctx context.Context, itemID string) (repository.Item, error)
	AddStock(ctx context.Context, itemID string, amount int64) error
	SubtractStock(ctx context.Context, itemID string, amount int64) error
	BatchInit(ctx context.Context, n int, startingStock, price int64) error
}

type Handler struct {
	items  Items
	logger *zap.Logger
}

func NewHandler(items Items, logger *zap.Logger) *Handler {
	return &Handler{items: items, logger: logger}
}

// ItemResponse is also what the order service reads to price a line.
type ItemResponse struct {
	Stock int64 `json:"stock"`
	Price int64 `json:"price"`
}

type DoneResponse struct {
	Done bool `json:"done"`
}

// PostCreateItem handles POST /item/create/{price}.
func (h *Handler) PostCreateItem(w http.ResponseWriter, r *http.Request) {
	price, err := httpapi.PathParam[int64](r, "price")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid price", err)
		return
	}
	itemID, err := h.items.CreateItem(r.Context(), price)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"item_id": itemID})
}

// GetFindItem handles GET /find/{item_id}.
func (h *Handler) GetFindItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpapi.PathParam[string](r, "item_id")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid item_id", err)
		return
	}
	item, err := h.items.FindItem(r.Context(), itemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, ItemResponse{Stock: item.Stock, Price: item.Price})
}

// PostAddStock handles POST /add/{item_id}/{amount}.
func (h *Handler) PostAddStock(w http.ResponseWriter, r *http.Request) {
	itemID, amount, ok := h.itemAndAmount(w, r)
	if !ok {
		return
	}
	if err := h.items.AddStock(r.Context(), itemID, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, DoneResponse{Done: true})
}

// PostSubtractStock handles POST /subtract/{item_id}/{amount}.
func (h *Handler) PostSubtractStock(w http.ResponseWriter, r *http.Request) {
	itemID, amount, ok := h.itemAndAmount(w, r)
	if !ok {
		return
	}
	if err := h.items.SubtractStock(r.Context(), itemID, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, DoneResponse{Done: true})
}

// PostBatchInit handles POST /batch_init/{n}/{starting_stock}/{item_price}.
func (h *Handler) PostBatchInit(w http.ResponseWriter, r *http.Request) {
	n, err := httpapi.PathParam[int](r, "n")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid n", err)
		return
	}
	stock, err := httpapi.PathParam[int64](r, "starting_stock")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid starting_stock", err)
		return
	}
	price, err := httpapi.PathParam[int64](r, "item_price")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid item_price", err)
		return
	}
	if err := h.items.BatchInit(r.Context(), n, stock, price); err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"msg": "Batch init for stock successful"})
}

func (h *Handler) itemAndAmount(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	itemID, err := httpapi.PathParam[string](r, "item_id")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid item_id", err)
		return "", 0, false
	}
	amount, err := httpapi.PathParam[int64](r, "amount")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid amount", err)
		return "", 0, false
	}
	return itemID, amount, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrItemNotFound):
		httpapi.WriteError(w, r, h.logger, http.StatusNotFound, "item not found", err)
	case errors.Is(err, service.ErrInvalidAmount):
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid amount", err)
	case errors.Is(err, service.ErrInsufficientStock):
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "insufficient stock", err)
	default:
		httpapi.WriteError(w, r, h.logger, http.StatusInternalServerError, "internal error", err)
	}
}
