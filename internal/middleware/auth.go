// Package middleware holds HTTP middleware shared by the API handlers.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

type ctxKey struct{}

// SessionStore reports the signed-in user for a request.
type SessionStore interface {
	UserID(r *http.Request) (string, error)
}

// RequireUser rejects requests without a signed-in user and makes the user
// id available through UserID.
func RequireUser(sessions SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := sessions.UserID(r)
			if err != nil || id == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck,gosec
					"success": false,
					"error":   map[string]string{"message": "Authentication required", "code": "unauthorized"},
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// WithUserID returns a context carrying the user id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// UserID returns the user id set by RequireUser.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
