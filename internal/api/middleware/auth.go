package middleware

import (
	"context"
	"net/http"

	"github.com/notifyhub/notify-core/internal/auth"
)

type claimsKey struct{}

// Auth verifies the bearer token on every request using verifier, and
// stores the resulting claims on the request context for downstream
// handlers. A verification failure short-circuits with 401. If
// requiredRoles is non-empty, a verified caller whose realm_access.roles
// claim intersects none of them is rejected with 403 — the token is
// valid, it simply isn't authorized for this API.
func Auth(verifier *auth.Verifier, requiredRoles []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.Verify(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if len(requiredRoles) > 0 && !hasAnyRole(claims.Roles, requiredRoles) {
				http.Error(w, `{"error":"forbidden: missing required role"}`, http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAnyRole(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// GetClaims retrieves the claims stored by Auth. Returns nil if the
// middleware was not applied (e.g. in tests that bypass auth).
func GetClaims(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}
