package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Apsistec/fitos-app-sub001/internal/config"
)

type principalCtxKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    Role
}

// CanActFor reports whether p may read or decide approvals of trainerID.
func (p *Principal) CanActFor(trainerID string) bool {
	if p == nil {
		return false
	}
	return p.Role == RoleAdmin || (p.Role == RoleTrainer && p.Subject == trainerID)
}

var publicPaths = map[string]bool{
	"/health": true,
}

// localAdmin is injected when auth is disabled.
var localAdmin = &Principal{Subject: "local", Role: RoleAdmin}

// Auth returns middleware that validates bearer tokens. The WebSocket
// endpoint takes the token from ?token= since browsers cannot set headers
// on upgrade requests. When auth is disabled every request runs as admin.
func Auth(cfg config.Auth) func(http.Handler) http.Handler {
	secret := []byte(cfg.JWTSecret)
	return AuthWithSecret(cfg, func() []byte { return secret })
}

// AuthWithSecret is Auth with the signing secret read per request, so a
// rotated secret applies without rebuilding the router.
func AuthWithSecret(cfg config.Auth, secret func() []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), localAdmin)))
				return
			}
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			var raw string
			if strings.HasSuffix(r.URL.Path, "/ws") {
				raw = r.URL.Query().Get("token")
			} else {
				h := r.Header.Get("Authorization")
				raw = strings.TrimPrefix(h, "Bearer ")
				if raw == h {
					raw = ""
				}
			}
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			claims, err := ParseToken(secret(), cfg.Issuer, raw)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			p := &Principal{Subject: claims.Subject, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext returns the authenticated caller, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*Principal)
	return p
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
