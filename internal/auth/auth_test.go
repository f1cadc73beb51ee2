package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"

	"github.com/maraichr/cellforge/pkg/apierr"
)

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFrom(ctx); ok {
		t.Fatal("expected no principal in empty context")
	}

	p := &Principal{Sub: "user-123", Scopes: map[string]bool{ScopeRead: true}}
	got, ok := PrincipalFrom(WithPrincipal(ctx, p))
	if !ok || got.Sub != "user-123" {
		t.Fatalf("got %+v, %v", got, ok)
	}
}

func TestScopes(t *testing.T) {
	p := &Principal{Scopes: map[string]bool{ScopeRead: true}}

	if !p.HasScope(ScopeRead) {
		t.Error("expected read scope")
	}
	if p.HasScope(ScopeWrite) {
		t.Error("unexpected write scope")
	}
	if !p.HasAnyScope(ScopeWrite, ScopeRead) {
		t.Error("expected HasAnyScope to match read")
	}
	if p.HasAnyScope(ScopeWrite) {
		t.Error("expected HasAnyScope to be false")
	}
}

func TestActor(t *testing.T) {
	if got := (&Principal{Sub: "abc", Email: "a@b.c"}).Actor(); got != "a@b.c" {
		t.Errorf("Actor = %q", got)
	}
	if got := (&Principal{Sub: "abc"}).Actor(); got != "abc" {
		t.Errorf("Actor = %q", got)
	}
}

func TestClaimsPrincipal(t *testing.T) {
	c := claims{
		Sub:             "svc",
		Scope:           "openid profile",
		CellforgeScopes: "cellforge:read cellforge:write",
		Azp:             "cli",
		RealmAccess:     realmAccess{Roles: []string{RoleAdmin}},
	}
	p := c.principal("https://issuer")
	if !p.HasScope("openid") || !p.HasScope(ScopeWrite) || !p.IsAdmin() {
		t.Errorf("principal = %+v", p)
	}
	if p.ClientID != "cli" || p.Issuer != "https://issuer" {
		t.Errorf("principal = %+v", p)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer", "", true},
		{"Bearer ", "", true},
	}
	for _, tt := range tests {
		got, err := bearerToken(tt.header)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("bearerToken(%q) = %q, %v", tt.header, got, err)
		}
	}
}

func TestDevModeMiddleware(t *testing.T) {
	mw := DevModeMiddleware(slog.Default())

	var got *Principal
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if got == nil || !got.IsAdmin() || !got.HasScope(ScopeWrite) {
		t.Errorf("dev principal = %+v", got)
	}
}

type stubVerifier struct {
	p   *Principal
	err error
}

func (s stubVerifier) VerifyRequest(*http.Request) (*Principal, error) { return s.p, s.err }

func TestRequireAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, found := PrincipalFrom(r.Context()); !found {
			t.Error("principal missing")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	RequireAuth(stubVerifier{p: &Principal{Sub: "x"}}, slog.Default())(ok).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	RequireAuth(stubVerifier{err: errors.New("expired")}, nil)(ok).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: status %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}
	var resp apierr.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error.Code != apierr.CodeUnauthorized {
		t.Errorf("body = %+v, err = %v", resp, err)
	}
}

func TestRequireScope_ForbiddenNamesScopes(t *testing.T) {
	handler := RequireScope(ScopeWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &Principal{Scopes: map[string]bool{ScopeRead: true}}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp apierr.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != apierr.CodeForbidden || resp.Error.Field != "scope" {
		t.Errorf("error = %+v", resp.Error)
	}
	if scopes, ok := resp.Error.Value.([]any); !ok || len(scopes) != 1 || scopes[0] != ScopeWrite {
		t.Errorf("value = %#v", resp.Error.Value)
	}
	if rec.Header().Get("WWW-Authenticate") != "" {
		t.Error("403 should not challenge")
	}
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name      string
		principal *Principal
		want      int
	}{
		{"has scope", &Principal{Scopes: map[string]bool{ScopeWrite: true}}, http.StatusOK},
		{"missing scope", &Principal{Scopes: map[string]bool{ScopeRead: true}}, http.StatusForbidden},
		{"admin bypass", &Principal{Roles: map[string]bool{RoleAdmin: true}}, http.StatusOK},
		{"no principal", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireScope(ScopeWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPost, "/runs", nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestPrincipalFromTokenInfo(t *testing.T) {
	p := &Principal{Sub: "x"}
	got, ok := PrincipalFromTokenInfo(&sdkauth.TokenInfo{Extra: map[string]any{"principal": p}})
	if !ok || got != p {
		t.Errorf("got %v, %v", got, ok)
	}
	if _, ok := PrincipalFromTokenInfo(nil); ok {
		t.Error("expected false for nil info")
	}
}
