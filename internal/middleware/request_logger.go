package middleware

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/tripmind/internal/logging"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger stores a logger carrying the chi request id, method and
// path in the request context. It must run after chi's RequestID.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				"request_id", chiMiddleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
			)
			next.ServeHTTP(w, r.WithContext(logging.NewContext(r.Context(), logger)))
		})
	}
}
