package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/therapybooking/internal/infrastructure/observability"
)

// RequestObserver receives per-request measurements
type RequestObserver interface {
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
}

// Observability adds OpenTelemetry tracing and request metrics. Either
// argument may be nil.
func Observability(metrics *observability.Metrics, observer RequestObserver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := observability.StartSpan(r.Context(), r.Method+" "+r.URL.Path)
			defer span.End()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			r = r.WithContext(ctx)

			next.ServeHTTP(rw, r)

			// r.Pattern is only known after the mux matched
			route := routeOf(r)
			duration := time.Since(start)
			observability.SetSpanAttributes(span,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.Int("http.status_code", rw.statusCode),
			)
			observability.RecordRequestMetric(ctx, metrics, r.Method, route, rw.statusCode, duration)
			if observer != nil {
				observer.ObserveHTTPRequest(r.Method, route, rw.statusCode, duration)
			}
		})
	}
}
