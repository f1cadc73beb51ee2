package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"

	"github.com/maraichr/cellforge/internal/auth"
	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/jobs"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/mcp"
	"github.com/maraichr/cellforge/internal/mcp/session"
	"github.com/maraichr/cellforge/internal/mcp/tools"
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

	backends, err := llm.FromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure llm backends", slog.String("error", err.Error()))
		os.Exit(1)
	}

	deps := tools.Deps{
		Backends: backends,
		Defaults: cfg.Processing,
		Logger:   logger,
	}

	// Object storage (optional for workbook tools)
	objects, err := objstore.New(ctx, cfg)
	if err != nil {
		logger.Warn("object storage unavailable, workbook tools disabled", slog.String("error", err.Error()))
	} else {
		deps.Objects = objects
	}

	// Database (optional for run tools)
	pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Warn("database unavailable, run tools disabled", slog.String("error", err.Error()))
	} else {
		defer pool.Close()
		deps.Runs = store.New(pool)
		logger.Info("connected to database")
	}

	// Valkey (optional for sessions and the run queue)
	vkClient, err := jobs.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Warn("valkey unavailable, sessions disabled", slog.String("error", err.Error()))
	} else {
		defer vkClient.Close()
		deps.Sessions = session.NewManager(vkClient)
		deps.Queue = jobs.NewProducer(vkClient)
		deps.Signals = jobs.NewSignals(vkClient, cfg.Valkey.ProgressTTL, jobs.DefaultCancelPoll, logger)
		logger.Info("connected to valkey")
	}

	server := mcp.NewServer()
	tools.Register(server, deps)

	mux := http.NewServeMux()

	var handler http.Handler = mcp.Handler(server)
	if cfg.Auth.Enabled {
		if cfg.Auth.IssuerURL == "" {
			logger.Error("AUTH_ENABLED=true but AUTH_ISSUER_URL is empty")
			os.Exit(1)
		}
		verifier, err := auth.NewVerifier(ctx, cfg.Auth.IssuerURL, cfg.Auth.PublicIssuer, cfg.Auth.Audience)
		if err != nil {
			logger.Error("failed to init OIDC verifier for MCP", slog.String("error", err.Error()))
			os.Exit(1)
		}

		// RFC 9728 metadata lets clients discover the authorization server.
		resourceMetadataURL := ""
		if cfg.MCP.ResourceURL != "" {
			resourceMetadataURL = cfg.MCP.ResourceURL + "/.well-known/oauth-protected-resource"
			authServerURL := cfg.Auth.PublicIssuer
			if authServerURL == "" {
				authServerURL = cfg.Auth.IssuerURL
			}
			prm := mcp.ProtectedResourceMetadata(cfg.MCP.ResourceURL, authServerURL)
			mux.Handle("/.well-known/oauth-protected-resource", sdkauth.ProtectedResourceMetadataHandler(prm))
			logger.Info("RFC 9728 metadata endpoint enabled", slog.String("url", resourceMetadataURL))
		}

		handler = mcp.RequireBearer(handler, verifier, resourceMetadataURL)
		logger.Info("MCP OIDC auth enabled", slog.String("issuer", cfg.Auth.IssuerURL))
	} else {
		handler = auth.DevModeMiddleware(logger)(handler)
	}

	mux.Handle("/mcp", handler)
	mux.Handle("/", handler)

	httpServer := &http.Server{Addr: cfg.MCP.Addr, Handler: mux}

	go func() {
		logger.Info("MCP server listening", slog.String("addr", cfg.MCP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("MCP HTTP server error", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("MCP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("MCP HTTP shutdown", slog.String("error", err.Error()))
	}
	logger.Info("MCP server stopped")
}
