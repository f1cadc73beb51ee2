package handler

import (
	"context"
	"net/http"

	"github.com/maraichr/cellforge/pkg/apierr"
)

// Pinger is anything readiness depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db     Pinger
	valkey Pinger
}

func NewHealthHandler(db, valkey Pinger) *HealthHandler {
	return &HealthHandler{db: db, valkey: valkey}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeAPIError(w, nil, apierr.DatabaseNotReady())
			return
		}
	}
	if h.valkey != nil {
		if err := h.valkey.Ping(r.Context()); err != nil {
			writeAPIError(w, nil, apierr.ValkeyNotReady())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
