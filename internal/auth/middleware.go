package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ChiMiddleware creates a Chi middleware for JWT authentication
func (c *JWTConfig) ChiMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := ExtractTokenFromHeader(r.Header.Get("Authorization"))
			if err != nil {
				writeAuthError(w, ErrMissingToken)
				return
			}

			claims, err := c.ValidateToken(tokenString)
			if err != nil {
				writeAuthError(w, ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, ClaimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes an authentication error response
func writeAuthError(w http.ResponseWriter, authErr *AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.Status)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     authErr.Message,
		"code":      authErr.Code,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
