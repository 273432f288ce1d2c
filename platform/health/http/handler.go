package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check reports whether one dependency (store, bus) is usable.
type Check func(ctx context.Context) error

// Handler serves the health endpoint. It answers 200 {"status":"ok"} when every
// check passes and 503 {"status":"not ready","failing":[...]} otherwise.
func Handler(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var failing []string
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failing = append(failing, name)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failing) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "not ready", "failing": failing})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
