package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/infrastructure/observability"
)

// Logging logs one line per request, tagged with the trace of the request
// span when one is active.
func Logging(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger := observability.LoggerFromContext(r.Context(), logger)
			event := logger.Info()
			if rw.statusCode >= http.StatusInternalServerError {
				event = logger.Error()
			}
			if requester, ok := RequesterFromContext(r.Context()); ok {
				event = event.Str("requester_id", requester.ID)
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
