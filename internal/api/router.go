package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apihandler "github.com/maraichr/cellforge/internal/api/handler"
	apimw "github.com/maraichr/cellforge/internal/api/middleware"
	"github.com/maraichr/cellforge/internal/auth"
	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/objstore"
)

// RouterDeps holds the services behind the HTTP API. Objects, Queue and
// Signals are optional; the endpoints that need them answer 503 when absent.
type RouterDeps struct {
	Runs     apihandler.RunStore
	Backends apihandler.Backends
	Objects  objstore.Store
	Queue    apihandler.Enqueuer
	Signals  apihandler.RunSignals
	DB       apihandler.Pinger
	Valkey   apihandler.Pinger
	Defaults config.ProcessingConfig

	// Verifier authenticates requests. Nil runs the API in dev mode.
	Verifier auth.TokenVerifier
}

func NewRouter(logger *slog.Logger, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(apimw.Logger(logger))
	r.Use(apimw.CORS)
	r.Use(chimw.Recoverer)

	// Health checks
	health := apihandler.NewHealthHandler(deps.DB, deps.Valkey)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	var authn func(http.Handler) http.Handler
	if deps.Verifier != nil {
		authn = auth.RequireAuth(deps.Verifier, logger)
	} else {
		authn = auth.DevModeMiddleware(logger)
	}

	runs := apihandler.NewRunHandler(logger, deps.Runs, deps.Objects, deps.Queue, deps.Signals, deps.Defaults)
	models := apihandler.NewModelHandler(logger, deps.Backends)
	previews := apihandler.NewPreviewHandler(logger, deps.Objects, deps.Backends, deps.Defaults)
	workbooks := apihandler.NewWorkbookHandler(logger, deps.Objects)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authn)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeRead, auth.ScopeWrite))

			r.Get("/backends", models.Backends)
			r.Get("/models", models.List)
			r.Get("/prompts", models.Prompts)

			r.Get("/workbooks", workbooks.List)
			r.Get("/workbooks/summary", workbooks.Summary)
			r.Get("/workbooks/cells", workbooks.Cells)

			r.Get("/runs", runs.List)
			r.Route("/runs/{runID}", func(r chi.Router) {
				r.Get("/", runs.Get)
				r.Get("/results", runs.Results)
				r.Get("/progress", runs.Progress)
				r.Get("/events", runs.Events)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeWrite))

			r.Post("/models/test", models.TestConnection)
			r.Post("/workbooks", workbooks.Upload)
			r.Post("/preview", previews.Preview)
			r.Post("/runs", runs.Create)
			r.Post("/runs/{runID}/cancel", runs.Cancel)
		})
	})

	return r
}
