package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/maraichr/cellforge/internal/api"
	"github.com/maraichr/cellforge/internal/auth"
	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/jobs"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/objstore"
	"github.com/maraichr/cellforge/internal/store"
	"github.com/maraichr/cellforge/internal/store/postgres"
)

func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.NewJSON(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	s := store.New(pool)
	if err := s.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	backends, err := llm.FromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure llm backends", slog.String("error", err.Error()))
		os.Exit(1)
	}

	deps := api.RouterDeps{
		Runs:     s,
		Backends: backends,
		DB:       pool,
		Defaults: cfg.Processing,
	}

	// Object storage (optional, enables uploads and runs)
	objects, err := objstore.New(ctx, cfg)
	if err != nil {
		logger.Warn("object storage unavailable, workbooks disabled", slog.String("error", err.Error()))
	} else {
		deps.Objects = objects
		logger.Info("object storage ready", slog.String("backend", cfg.Storage.Backend), slog.String("bucket", objects.Bucket()))
	}

	// Valkey (optional, enables the run queue and progress)
	vkClient, err := jobs.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Warn("valkey connection failed, run queue disabled", slog.String("error", err.Error()))
	} else {
		defer vkClient.Close()
		signals := jobs.NewSignals(vkClient, cfg.Valkey.ProgressTTL, jobs.DefaultCancelPoll, logger)
		deps.Queue = jobs.NewProducer(vkClient)
		deps.Signals = signals
		deps.Valkey = signals
		logger.Info("connected to valkey")
	}

	// Auth (optional, requires AUTH_ENABLED=true + valid issuer URL)
	if cfg.Auth.Enabled {
		if cfg.Auth.IssuerURL == "" {
			logger.Error("AUTH_ENABLED=true but AUTH_ISSUER_URL is empty")
			os.Exit(1)
		}
		verifier, err := auth.NewVerifier(ctx, cfg.Auth.IssuerURL, cfg.Auth.PublicIssuer, cfg.Auth.Audience)
		if err != nil {
			logger.Error("failed to init OIDC verifier", slog.String("error", err.Error()))
			os.Exit(1)
		}
		deps.Verifier = verifier
		logger.Info("OIDC auth enabled", slog.String("issuer", cfg.Auth.IssuerURL))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(logger, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting API server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
