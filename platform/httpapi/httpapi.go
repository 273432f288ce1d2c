// Package httpapi holds the request and response helpers shared by the
// service routers.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/kv"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

// PathParam binds the chi URL parameter name into a T using the OpenAPI
// "simple" style. A value that does not parse is reported as a 400.
func PathParam[T any](r *http.Request, name string) (T, error) {
	var v T
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	return v, err
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error is the body of every non-2xx response.
type Error struct {
	Error string `json:"error"`
}

// WriteError logs err and writes msg with status. Store unavailability always
// becomes 503 so that callers know to retry.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, status int, msg string, err error) {
	log := observability.LoggerFromContext(r.Context(), logger)
	if errors.Is(err, kv.ErrUnavailable) {
		status = http.StatusServiceUnavailable
		msg = "storage temporarily unavailable"
	}
	if status >= 500 {
		log.Error("request failed", zap.Error(err), zap.Int("status", status))
	} else {
		log.Info("request rejected", zap.Error(err), zap.Int("status", status))
	}
	WriteJSON(w, status, Error{Error: msg})
}
