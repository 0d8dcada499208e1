// File: internal/infra/web/auth.go
package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/infra/logging"
)

type ctxKey string

const identityKey ctxKey = "identity"

// identityClaims are the token claims the gateway trusts. The tenant,
// business unit and user IDs together form the caller's identity; every
// downstream lookup is scoped by all three.
type identityClaims struct {
	TenantID       string `json:"tenant_id"`
	BusinessUnitID string `json:"business_unit_id"`
	UserID         string `json:"user_id"`
	jwt.RegisteredClaims
}

// jwtAuth validates the bearer token and stashes the caller identity in
// the request context. Requests without a complete identity are rejected
// before reaching any handler.
func jwtAuth(secret string, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				logger.Error().Msg("jwt secret is not configured")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
				return
			}

			claims := &identityClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			identity := model.Identity{
				TenantID:       claims.TenantID,
				BusinessUnitID: claims.BusinessUnitID,
				UserID:         claims.UserID,
			}
			if !identity.Valid() {
				http.Error(w, "Unauthorized: Incomplete identity", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			ctx = logging.WithTenantID(ctx, identity.TenantID)
			ctx = logging.WithUserID(ctx, identity.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFrom(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(model.Identity)
	return identity, ok
}
