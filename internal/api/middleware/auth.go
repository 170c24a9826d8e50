package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edvin/botplane/internal/api/response"
)

type contextKey string

const ClaimsKey contextKey = "operator_claims"

// TokenValidator checks an operator session token.
type TokenValidator interface {
	Validate(token string) (*jwt.RegisteredClaims, error)
}

// Auth returns a middleware that requires a valid operator token in the
// Authorization header. Websocket clients, which cannot set headers, may
// pass it as the access_token query parameter. CORS preflights pass through.
func Auth(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			token := extractToken(r)
			if token == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := v.Validate(token)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
