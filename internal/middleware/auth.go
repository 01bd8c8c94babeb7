package middleware

import (
	"net/http"
	"strings"

	"github.com/veritrail/veritrail/internal/auth"
)

// Authenticate is a middleware that validates the bearer token on incoming
// requests and records the actor and tenant identities in the context.
// Requests without a valid access token are rejected with 401.
func Authenticate(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil || claims.Type != auth.TokenTypeAccess {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := SetActor(r.Context(), claims.Subject)
			if claims.Org != "" {
				ctx = SetTenantID(ctx, claims.Org)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
