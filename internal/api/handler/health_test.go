package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maraichr/cellforge/pkg/apierr"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler_Readyz(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errBoom })

	tests := []struct {
		name   string
		db     Pinger
		valkey Pinger
		want   int
		code   apierr.Code
	}{
		{"all up", ok, ok, http.StatusOK, ""},
		{"database down", down, ok, http.StatusServiceUnavailable, apierr.CodeDatabaseNotReady},
		{"valkey down", ok, down, http.StatusServiceUnavailable, apierr.CodeValkeyNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.db, tt.valkey).Readyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			if tt.code != "" {
				if resp := decodeError(t, w); resp.Error.Code != tt.code {
					t.Errorf("expected code %s, got %s", tt.code, resp.Error.Code)
				}
			}
		})
	}
}
