// Package middleware implements HTTP middleware for the operator-facing
// control API (§4.14). It is never applied to the pose wire protocol.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// APIKeyAuth validates requests against a single configured API key or a
// JWT signed with the configured secret.
type APIKeyAuth struct {
	apiKey    string
	jwtSecret []byte
}

// NewAPIKeyAuth creates the auth middleware.
func NewAPIKeyAuth(apiKey, jwtSecret string) *APIKeyAuth {
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &APIKeyAuth{apiKey: apiKey, jwtSecret: secret}
}

// Handler returns the middleware, exempting /health, /metrics, and
// /api/v1/login.
func (a *APIKeyAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" || r.URL.Path == "/api/v1/login" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			if a.jwtSecret != nil {
				token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
					}
					return a.jwtSecret, nil
				})
				if err == nil && token.Valid {
					next.ServeHTTP(w, r)
					return
				}
			}

			if tokenString == a.apiKey {
				next.ServeHTTP(w, r)
				return
			}
		}

		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" && apiKey == a.apiKey {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
