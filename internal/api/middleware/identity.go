package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	apperrors "github.com/zatekoja/therapybooking/pkg/errors"
)

// Identity headers set by the upstream gateway after authentication
const (
	HeaderRequesterID   = "X-Requester-ID"
	HeaderRequesterRole = "X-Requester-Role"
)

type requesterKey struct{}

// WithRequester stores the requester in ctx
func WithRequester(ctx context.Context, requester entities.Requester) context.Context {
	return context.WithValue(ctx, requesterKey{}, requester)
}

// RequesterFromContext returns the requester attached by Identity
func RequesterFromContext(ctx context.Context) (entities.Requester, bool) {
	requester, ok := ctx.Value(requesterKey{}).(entities.Requester)
	return requester, ok
}

// Identity turns the gateway identity headers into an entities.Requester.
// Requests without headers pass through anonymously; malformed headers are
// rejected.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequesterID))
		role := entities.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRequesterRole))))

		if id == "" && role == "" {
			next.ServeHTTP(w, r)
			return
		}
		if id == "" || !role.Valid() {
			writeError(w, http.StatusUnauthorized, apperrors.NewUnauthorizedError("invalid requester identity"))
			return
		}

		ctx := WithRequester(r.Context(), entities.Requester{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects anonymous requests with 401 and requesters whose role
// is not listed with 403.
func RequireRole(roles ...entities.Role) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requester, ok := RequesterFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, apperrors.NewUnauthorizedError("requester identity required"))
				return
			}
			for _, role := range roles {
				if requester.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, apperrors.NewForbiddenError("role "+string(requester.Role)+" may not perform this operation"))
		})
	}
}

// Authenticated is RequireRole for any known role
func Authenticated() Middleware {
	return RequireRole(entities.RolePatient, entities.RoleTherapist, entities.RoleAdmin)
}

func writeError(w http.ResponseWriter, status int, err *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Message,
		"code":  string(err.Code),
	})
}
