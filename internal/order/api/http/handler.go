package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/order/repository"
	"github.com/Nobert1/event-driven-systems/internal/order/service"
	"github.com/Nobert1/event-driven-systems/platform/bus"
	"github.com/Nobert1/event-driven-systems/platform/httpapi"
)

// Orders is what the HTTP layer needs from the order service.
type Orders interface {
	Create(ctx context.Context, userID string) (string, error)
	AddItem(ctx context.Context, orderID, itemID string, quantity int64) (repository.Order, error)
	Checkout(ctx context.Context, orderID string) (repository.Order, error)
	Find(ctx context.Context, orderID string) (repository.Order, error)
	BatchInit(ctx context.Context, n, nItems, nUsers int, itemPrice int64) error
}

type Handler struct {
	orders Orders
	logger *zap.Logger
}

func NewHandler(orders Orders, logger *zap.Logger) *Handler {
	return &Handler{orders: orders, logger: logger}
}

type LineResponse struct {
	ItemID    string `json:"item_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type OrderResponse struct {
	OrderID       string         `json:"order_id"`
	UserID        string         `json:"user_id"`
	Items         []LineResponse `json:"items"`
	TotalCost     int64          `json:"total_cost"`
	PaymentStatus string         `json:"payment_status"`
	StockStatus   string         `json:"stock_status"`
	State         string         `json:"state"`
}

func toResponse(o repository.Order) OrderResponse {
	items := make([]LineResponse, 0, len(o.Items))
	for _, l := range o.Items {
		items = append(items, LineResponse{ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return OrderResponse{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Items:         items,
		TotalCost:     o.TotalCost,
		PaymentStatus: string(o.PaymentStatus),
		StockStatus:   string(o.StockStatus),
		State:         string(o.State()),
	}
}

// PostCreate handles POST /create/{user_id}.
func (h *Handler) PostCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.PathParam[string](r, "user_id")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid user_id", err)
		return
	}
	orderID, err := h.orders.Create(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"order_id": orderID})
}

// PostAddItem handles POST /addItem/{order_id}/{item_id}/{quantity}.
func (h *Handler) PostAddItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	itemID, err := httpapi.PathParam[string](r, "item_id")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid item_id", err)
		return
	}
	quantity, err := httpapi.PathParam[int64](r, "quantity")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid quantity", err)
		return
	}

	o, err := h.orders.AddItem(r.Context(), orderID, itemID, quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"order_id": o.ID, "total_cost": o.TotalCost})
}

// PostCheckout handles POST /checkout/{order_id}. The saga runs
// asynchronously; the response is the order as of the request and the
// outcome is read through GET /find.
func (h *Handler) PostCheckout(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.Checkout(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusAccepted, toResponse(o))
}

// GetFind handles GET /find/{order_id}.
func (h *Handler) GetFind(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.Find(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, toResponse(o))
}

// PostBatchInit handles POST /batch_init/{n}/{n_items}/{n_users}/{item_price}.
func (h *Handler) PostBatchInit(w http.ResponseWriter, r *http.Request) {
	var (
		counts [3]int
		names  = [3]string{"n", "n_items", "n_users"}
	)
	for i, name := range names {
		v, err := httpapi.PathParam[int](r, name)
		if err != nil {
			httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid "+name, err)
			return
		}
		counts[i] = v
	}
	price, err := httpapi.PathParam[int64](r, "item_price")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid item_price", err)
		return
	}
	if err := h.orders.BatchInit(r.Context(), counts[0], counts[1], counts[2], price); err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"msg": "Batch init for orders successful"})
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID, err := httpapi.PathParam[string](r, "order_id")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid order_id", err)
		return "", false
	}
	return orderID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		httpapi.WriteError(w, r, h.logger, http.StatusNotFound, "order not found", err)
	case errors.Is(err, service.ErrItemNotFound):
		httpapi.WriteError(w, r, h.logger, http.StatusNotFound, "item not found", err)
	case errors.Is(err, service.ErrOrderAlreadyCheckedOut):
		httpapi.WriteError(w, r, h.logger, http.StatusConflict, "order already checked out", err)
	case errors.Is(err, service.ErrEmptyOrder):
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "order has no items", err)
	case errors.Is(err, service.ErrInvalidQuantity):
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid quantity", err)
	case errors.Is(err, service.ErrInventoryUnavailable),
		errors.Is(err, service.ErrVersionConflict),
		errors.Is(err, bus.ErrUnavailable):
		httpapi.WriteError(w, r, h.logger, http.StatusServiceUnavailable, "temporarily unavailable, retry", err)
	default:
		httpapi.WriteError(w, r, h.logger, http.StatusInternalServerError, "internal error", err)
	}
}
