package mcp

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthMiddleware checks the Authorization header against a bcrypt hash of the
// API key. The key may be sent bare or as a Bearer token. An empty hash
// disables the check.
func AuthMiddleware(apiKeyHash string, next http.Handler) http.Handler {
	if apiKeyHash == "" {
		return next
	}
	hash := []byte(apiKeyHash)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
