package auth

import (
	"log/slog"
	"net/http"
)

// DevPrincipal is the identity every request gets when auth is disabled.
func DevPrincipal() *Principal {
	return &Principal{
		Sub:      "dev-user",
		Scopes:   map[string]bool{"openid": true, ScopeRead: true, ScopeWrite: true},
		Roles:    map[string]bool{RoleAdmin: true},
		ClientID: "dev",
		Issuer:   "dev",
		Email:    "dev@cellforge.local",
	}
}

// DevModeMiddleware injects DevPrincipal. Use only when AUTH_ENABLED=false.
func DevModeMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	logger.Warn("DEV MODE: authentication disabled, all requests get an admin principal")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), DevPrincipal())))
		})
	}
}
