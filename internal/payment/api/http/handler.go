package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/payment/repository"
	"github.com/Nobert1/event-driven-systems/internal/payment/service"
	"github.com/Nobert1/event-driven-systems/platform/httpapi"
)

// Accounts is what the HTTP layer needs from the account service.
type Accounts interface {
	CreateUser(ctx context.Context) (string, error)
	FindUser(ctx context.Context, userID string) (repository.Account, error)
	AddFunds(ctx context.Context, userID string, amount int64) error
	Pay(ctx context.Context, userID string, amount int64) error
	BatchInit(ctx context.Context, n int, startingMoney int64) error
}

type Handler struct {
	accounts Accounts
	logger   *zap.Logger
}

func NewHandler(accounts Accounts, logger *zap.Logger) *Handler {
	return &Handler{accounts: accounts, logger: logger}
}

type UserResponse struct {
	UserID string `json:"user_id"`
	Credit int64  `json:"credit"`
}

type DoneResponse struct {
	Done bool `json:"done"`
}

// PostCreateUser handles POST /create_user.
func (h *Handler) PostCreateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := h.accounts.CreateUser(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}

// GetFindUser handles GET /find_user/{user_id}.
func (h *Handler) GetFindUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.PathParam[string](r, "user_id")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid user_id", err)
		return
	}
	acc, err := h.accounts.FindUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, UserResponse{UserID: acc.UserID, Credit: acc.Credit})
}

// PostAddFunds handles POST /add_funds/{user_id}/{amount}.
func (h *Handler) PostAddFunds(w http.ResponseWriter, r *http.Request) {
	userID, amount, ok := h.userAndAmount(w, r)
	if !ok {
		return
	}
	if err := h.accounts.AddFunds(r.Context(), userID, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, DoneResponse{Done: true})
}

// PostPay handles POST /pay/{user_id}/{amount}.
func (h *Handler) PostPay(w http.ResponseWriter, r *http.Request) {
	userID, amount, ok := h.userAndAmount(w, r)
	if !ok {
		return
	}
	if err := h.accounts.Pay(r.Context(), userID, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, DoneResponse{Done: true})
}

// PostBatchInit handles POST /batch_init/{n}/{starting_money}.
func (h *Handler) PostBatchInit(w http.ResponseWriter, r *http.Request) {
	n, err := httpapi.PathParam[int](r, "n")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid n", err)
		return
	}
	money, err := httpapi.PathParam[int64](r, "starting_money")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid starting_money", err)
		return
	}
	if err := h.accounts.BatchInit(r.Context(), n, money); err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"msg": "Batch init for users successful"})
}

func (h *Handler) userAndAmount(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	userID, err := httpapi.PathParam[string](r, "user_id")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid user_id", err)
		return "", 0, false
	}
	amount, err := httpapi.PathParam[int64](r, "amount")
	if err != nil {
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid amount", err)
		return "", 0, false
	}
	return userID, amount, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		httpapi.WriteError(w, r, h.logger, http.StatusNotFound, "user not found", err)
	case errors.Is(err, service.ErrInvalidAmount):
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "invalid amount", err)
	case errors.Is(err, service.ErrInsufficientCredit):
		httpapi.WriteError(w, r, h.logger, http.StatusBadRequest, "insufficient credit", err)
	default:
		httpapi.WriteError(w, r, h.logger, http.StatusInternalServerError, "internal error", err)
	}
}
