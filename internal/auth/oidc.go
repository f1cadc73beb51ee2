package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Verifier validates JWTs using OIDC discovery and JWKS.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the provider at issuerURL. publicIssuer, when set,
// is the iss value tokens carry if it differs from the discovery URL (for
// example inside a compose network).
func NewVerifier(ctx context.Context, issuerURL, publicIssuer, audience string) (*Verifier, error) {
	if publicIssuer != "" && publicIssuer != issuerURL {
		ctx = oidc.InsecureIssuerURLContext(ctx, publicIssuer)
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return &Verifier{verifier: provider.Verifier(&oidc.Config{ClientID: audience})}, nil
}

type claims struct {
	Sub             string      `json:"sub"`
	Email           string      `json:"email"`
	Scope           string      `json:"scope"`
	CellforgeScopes string      `json:"cellforge_scopes"`
	Azp             string      `json:"azp"`
	RealmAccess     realmAccess `json:"realm_access"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

func (c claims) principal(issuer string) *Principal {
	scopes := make(map[string]bool)
	for _, s := range strings.Fields(c.Scope) {
		scopes[s] = true
	}
	for _, s := range strings.Fields(c.CellforgeScopes) {
		scopes[s] = true
	}
	roles := make(map[string]bool)
	for _, r := range c.RealmAccess.Roles {
		roles[r] = true
	}
	return &Principal{
		Sub:      c.Sub,
		Scopes:   scopes,
		Roles:    roles,
		ClientID: c.Azp,
		Issuer:   issuer,
		Email:    c.Email,
	}
}

// VerifyToken verifies a raw bearer token and returns the Principal and the
// token's expiry.
func (v *Verifier) VerifyToken(ctx context.Context, rawToken string) (*Principal, time.Time, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("token verification failed: %w", err)
	}

	var c claims
	if err := token.Claims(&c); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse claims: %w", err)
	}
	if c.Sub == "" {
		return nil, time.Time{}, fmt.Errorf("missing sub claim")
	}
	return c.principal(token.Issuer), token.Expiry, nil
}

// VerifyRequest extracts and verifies the Bearer token from the request.
func (v *Verifier) VerifyRequest(r *http.Request) (*Principal, error) {
	raw, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	p, _, err := v.VerifyToken(r.Context(), raw)
	return p, err
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return parts[1], nil
}
