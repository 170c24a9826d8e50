package middleware

import (
	"context"
	"net/http"
	"time"
)

// Budget bounds the context of every request to d. Unlike chi's Timeout it
// writes nothing itself; handlers report work cut short as a partial result.
func Budget(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
