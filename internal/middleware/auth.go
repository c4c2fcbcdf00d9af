package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/akulagin/invest-card-service/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const investorIDKey contextKey = "investorID"

// AuthMiddleware validates the Bearer token and stores the investor id
// in the request context.
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(header, "Bearer ")

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid || claims.Subject == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), investorIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InvestorID extracts the authenticated investor id from the context.
func InvestorID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(investorIDKey).(string)
	return id, ok && id != ""
}
