package auth

import (
	"context"
	"fmt"
	"net/http"

	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
)

// NewMCPTokenVerifier adapts Verifier to the SDK's TokenVerifier. The
// Principal travels in TokenInfo.Extra under "principal".
func NewMCPTokenVerifier(v *Verifier) sdkauth.TokenVerifier {
	return func(ctx context.Context, token string, _ *http.Request) (*sdkauth.TokenInfo, error) {
		principal, expiry, err := v.VerifyToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sdkauth.ErrInvalidToken, err)
		}

		scopes := make([]string, 0, len(principal.Scopes))
		for s := range principal.Scopes {
			scopes = append(scopes, s)
		}

		return &sdkauth.TokenInfo{
			UserID:     principal.Sub,
			Scopes:     scopes,
			Expiration: expiry,
			Extra: map[string]any{
				"principal": principal,
			},
		}, nil
	}
}

// PrincipalFromTokenInfo recovers the Principal stored by NewMCPTokenVerifier.
func PrincipalFromTokenInfo(info *sdkauth.TokenInfo) (*Principal, bool) {
	if info == nil || info.Extra == nil {
		return nil, false
	}
	p, ok := info.Extra["principal"].(*Principal)
	return p, ok
}
