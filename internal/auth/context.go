package auth

import (
	"context"
)

const (
	ScopeRead  = "cellforge:read"
	ScopeWrite = "cellforge:write"
	RoleAdmin  = "cellforge_admin"
)

type ctxKey struct{}

// Principal represents an authenticated identity extracted from a JWT.
type Principal struct {
	Sub      string          `json:"sub"`
	Scopes   map[string]bool `json:"scopes"`
	Roles    map[string]bool `json:"roles"`
	ClientID string          `json:"client_id"`
	Issuer   string          `json:"issuer"`
	Email    string          `json:"email"`
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok
}

func (p *Principal) HasScope(s string) bool {
	return p.Scopes[s]
}

// HasAnyScope returns true if the principal has any of the given scopes.
func (p *Principal) HasAnyScope(scopes ...string) bool {
	for _, s := range scopes {
		if p.Scopes[s] {
			return true
		}
	}
	return false
}

func (p *Principal) IsAdmin() bool {
	return p.Roles[RoleAdmin]
}

// Actor names the principal for run records and logs.
func (p *Principal) Actor() string {
	if p.Email != "" {
		return p.Email
	}
	return p.Sub
}
