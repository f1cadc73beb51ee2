// Package mcp exposes cell transformation to agents over the Model Context
// Protocol, using the Streamable HTTP transport.
package mcp

import (
	"net/http"

	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/modelcontextprotocol/go-sdk/oauthex"

	"github.com/maraichr/cellforge/internal/auth"
)

const (
	ServerName    = "cellforge"
	ServerVersion = "1.0.0"
)

func NewServer() *sdkmcp.Server {
	return sdkmcp.NewServer(&sdkmcp.Implementation{Name: ServerName, Version: ServerVersion}, nil)
}

// Handler serves s statelessly so session IDs left over from a restart are
// ignored. Agent state lives in Valkey under the session_id tool parameter.
func Handler(s *sdkmcp.Server) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(
		func(*http.Request) *sdkmcp.Server { return s },
		&sdkmcp.StreamableHTTPOptions{Stateless: true},
	)
}

// ProtectedResourceMetadata describes this server per RFC 9728.
func ProtectedResourceMetadata(resourceURL, authServerURL string) *oauthex.ProtectedResourceMetadata {
	return &oauthex.ProtectedResourceMetadata{
		Resource:               resourceURL,
		AuthorizationServers:   []string{authServerURL},
		ScopesSupported:        []string{"openid", auth.ScopeRead, auth.ScopeWrite},
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "Cellforge MCP Server",
	}
}

// RequireBearer wraps h with SDK bearer auth backed by verifier.
func RequireBearer(h http.Handler, verifier *auth.Verifier, resourceMetadataURL string) http.Handler {
	return sdkauth.RequireBearerToken(auth.NewMCPTokenVerifier(verifier), &sdkauth.RequireBearerTokenOptions{
		ResourceMetadataURL: resourceMetadataURL,
	})(h)
}
