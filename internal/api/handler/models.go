package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/pkg/apierr"
)

// Backends is the view of the LLM client the API needs. *llm.Client
// satisfies it.
type Backends interface {
	Target(kind llm.Kind, model string) (*llm.Target, error)
	Backend() llm.Kind
	Configured() []llm.Kind
}

type ModelHandler struct {
	logger   *slog.Logger
	backends Backends
}

func NewModelHandler(logger *slog.Logger, backends Backends) *ModelHandler {
	return &ModelHandler{logger: logging.OrNop(logger), backends: backends}
}

// Backends lists the configured variants and which one is the default.
func (h *ModelHandler) Backends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"backends": h.backends.Configured(),
		"default":  h.backends.Backend(),
	})
}

// List returns the model catalog of ?backend= (default: the active one).
func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	target, e := h.target(r.URL.Query().Get("backend"), "")
	if e != nil {
		writeAPIError(w, h.logger, e)
		return
	}
	models, err := target.ListModels(r.Context())
	if err != nil {
		writeAPIError(w, h.logger, apierr.ModelListFailed(err))
		return
	}
	if models == nil {
		models = []llm.Model{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backend": target.Backend(),
		"models":  models,
	})
}

type testConnectionRequest struct {
	Backend string `json:"backend"`
	Model   string `json:"model"`
}

// TestConnection sends a minimal prompt to a backend. Failures are reported
// in the body, not as an HTTP error.
func (h *ModelHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, h.logger, apierr.InvalidRequestBody())
			return
		}
	}
	target, e := h.target(req.Backend, req.Model)
	if e != nil {
		writeAPIError(w, h.logger, e)
		return
	}
	ok, msg := target.TestConnection(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"backend": target.Backend(),
		"model":   target.Model(),
		"ok":      ok,
		"message": msg,
	})
}

func (h *ModelHandler) Prompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"prompts": config.Prompts(),
	})
}

func (h *ModelHandler) target(backend, model string) (*llm.Target, *apierr.Error) {
	return targetFor(h.backends, backend, model)
}

// targetFor pins a backend by name; an empty name means the active one.
func targetFor(backends Backends, backend, model string) (*llm.Target, *apierr.Error) {
	kind := backends.Backend()
	if backend != "" {
		k, err := llm.ParseKind(backend)
		if err != nil {
			return nil, apierr.UnknownBackend(backend)
		}
		kind = k
	}
	t, err := backends.Target(kind, model)
	if err != nil {
		return nil, apierr.UnknownBackend(string(kind))
	}
	return t, nil
}
