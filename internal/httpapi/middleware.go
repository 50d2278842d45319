package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/kadirpekel/orchestra/internal/authn"
)

type contextKey string

const claimsContextKey contextKey = "claims"
const bearerContextKey contextKey = "bearer"

// withAuth verifies the caller's bearer token and attaches the resulting
// Claims and raw bearer to the request context.
func withAuth(verifier authn.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				header := r.Header.Get("Authorization")
				bearer := strings.TrimPrefix(header, "Bearer ")
				if header == "" || bearer == header {
					writeError(w, errUnauthorizedMissingBearer)
					return
				}

				claims, err := verifier.Verify(r.Context(), bearer)
				if err != nil {
					writeError(w, err)
					return
				}

				ctx := context.WithValue(r.Context(), claimsContextKey, claims)
				ctx = context.WithValue(ctx, bearerContextKey, bearer)
				next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFromContext(ctx context.Context) (authn.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(authn.Claims)
	return claims, ok
}

func bearerFromContext(ctx context.Context) string {
	bearer, _ := ctx.Value(bearerContextKey).(string)
	return bearer
}

// requireRole gates a handler to callers whose verified role is in roles.
func requireRole(roles...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims, ok := claimsFromContext(r.Context())
				if !ok || !allowed[claims.Role] {
					writeError(w, errForbidden)
					return
				}
				next.ServeHTTP(w, r)
		})
	}
}
