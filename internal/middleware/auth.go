package middleware

import (
	"context"
	"net/http"

	"talentai/learning/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

const claimsKey contextKey = "jwt_claims"

// RequireJWT rejects requests without a valid HS256 bearer token. An empty
// secret disables the check.
func RequireJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := utils.VerifyToken(r, secret)
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Claims returns the verified claims, or nil when auth is disabled.
func Claims(r *http.Request) jwt.MapClaims {
	claims, _ := r.Context().Value(claimsKey).(jwt.MapClaims)
	return claims
}
