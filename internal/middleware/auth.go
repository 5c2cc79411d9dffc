package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/akash/amount-extractor/backend/internal/auth"
	"github.com/akash/amount-extractor/backend/internal/models"
)

type identityKey struct{}

// IdentityFrom returns the authenticated identity injected by RequireAuth.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(models.Identity)
	return ident, ok
}

// WithIdentity returns a context carrying the given identity. Exported for
// handler tests that bypass the middleware.
func WithIdentity(ctx context.Context, ident models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// RequireAuth is middleware that validates the bearer token and injects the
// decoded identity into the request context. It is a pure gate: it touches
// no store and has no side effects beyond rejection or continuation.
func RequireAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Second space-separated field of the Authorization header; a
			// missing or malformed header both mean "no token".
			parts := strings.Split(r.Header.Get("Authorization"), " ")
			if len(parts) < 2 || parts[1] == "" {
				http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
				return
			}

			ident, err := tokens.Verify(parts[1])
			if err != nil {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}
