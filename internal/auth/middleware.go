package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ticketing-core/internal/logger"
)

// UserSink records callers the first time they are seen.
type UserSink interface {
	Upsert(ctx context.Context, id, email, displayName string) error
}

func deny(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

// Middleware verifies the bearer token and stores the caller's Identity in
// the request context. When users is set, the caller is upserted into the
// user directory so transfers can address them by email.
func Middleware(v Verifier, users UserSink, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := ExtractTokenFromRequest(r)
			if err != nil {
				deny(w, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}

			id, _, err := v.Verify(r.Context(), raw)
			if err != nil {
				log.LogSecurity("TOKEN_REJECTED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				deny(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
				return
			}

			if users != nil {
				if err := users.Upsert(r.Context(), id.UserID, id.Email, id.Name); err != nil {
					log.Error("AUTH", fmt.Sprintf("upsert user %s: %v", id.UserID, err))
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole rejects callers holding none of roles with 403.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthenticated", "no identity on request")
				return
			}
			if !id.Allows(roles...) {
				deny(w, http.StatusForbidden, "forbidden", fmt.Sprintf("role %s may not call this endpoint", id.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
