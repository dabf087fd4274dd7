package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recover turns a handler panic into a 500 with the standard error envelope.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			ctx := r.Context()
			correlationID := w.Header().Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = GetCorrelationID(ctx)
			}
			slog.ErrorContext(ctx, "handler panicked", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack())) // #nosec G706

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"code":    "INTERNAL_ERROR",
					"message": "Internal Server Error",
				},
				"correlationId": correlationID,
			})
		}()
		next.ServeHTTP(w, r)
	})
}
