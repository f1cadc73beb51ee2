package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/pkg/apierr"
)

// writeAuthError uses the API error envelope. 401s carry a bearer challenge.
func writeAuthError(w http.ResponseWriter, e *apierr.Error) {
	if e.Status() == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="cellforge"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	json.NewEncoder(w).Encode(e.Response())
}

// TokenVerifier is satisfied by *Verifier.
type TokenVerifier interface {
	VerifyRequest(r *http.Request) (*Principal, error)
}

// RequireAuth puts the verified Principal into the request context.
func RequireAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := verifier.VerifyRequest(r)
			if err != nil {
				logger.Warn("auth failed", slog.String("error", err.Error()), slog.String("path", r.URL.Path))
				writeAuthError(w, apierr.Unauthorized())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireScope admits principals holding any of scopes, and admins.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			switch {
			case !ok:
				writeAuthError(w, apierr.Unauthorized())
			case p.IsAdmin() || p.HasAnyScope(scopes...):
				next.ServeHTTP(w, r)
			default:
				writeAuthError(w, apierr.Forbidden(scopes))
			}
		})
	}
}
