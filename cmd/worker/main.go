package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/maraichr/cellforge/internal/batch"
	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/jobs"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/objstore"
	"github.com/maraichr/cellforge/internal/runner"
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

	// Valkey
	vkClient, err := jobs.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()
	logger.Info("connected to valkey")

	// Object storage
	objects, err := objstore.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to open object storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("object storage ready", slog.String("backend", cfg.Storage.Backend), slog.String("bucket", objects.Bucket()))

	backends, err := llm.FromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure llm backends", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("llm backends configured",
		slog.Any("backends", backends.Configured()),
		slog.String("default", string(backends.Backend())))

	signals := jobs.NewSignals(vkClient, cfg.Valkey.ProgressTTL, jobs.DefaultCancelPoll, logger)
	maxRuns := max(cfg.Processing.MaxRuns, 1)
	rn := runner.New(s, objects, signals, runner.ClientProcessors(backends), logger,
		batch.WithPacing(batch.Pacing{CellDelay: cfg.Processing.CellDelay, BatchDelay: cfg.Processing.BatchDelay}),
		batch.WithScheduler(batch.NewPool(maxRuns)),
	)

	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}

	// One consumer per concurrent run; each handles a run to completion
	// before reading the next message.
	g, gctx := errgroup.WithContext(ctx)
	for i := range maxRuns {
		consumer := jobs.NewConsumer(vkClient, fmt.Sprintf("%s-%d", host, i+1), logger)
		if i == 0 {
			if err := consumer.EnsureGroup(ctx); err != nil {
				logger.Error("failed to ensure consumer group", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
		g.Go(func() error {
			logger.Info("starting run consumer", slog.String("stream", jobs.StreamName), slog.Int("slot", i+1))
			if err := consumer.Consume(gctx, rn.Handle); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("consumer error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
