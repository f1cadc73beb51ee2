package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/maraichr/cellforge/internal/batch"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/pkg/models"
)

// Signals publishes run events and relays cancel requests over Valkey.
type Signals struct {
	client valkey.Client
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

func NewSignals(client valkey.Client, ttl, poll time.Duration, logger *slog.Logger) *Signals {
	return &Signals{client: client, ttl: ttl, poll: poll, logger: logging.OrNop(logger)}
}

func (s *Signals) Sink(ctx context.Context, runID uuid.UUID) batch.Sink {
	return NewStreamSink(ctx, s.client, runID, s.ttl, s.logger)
}

func (s *Signals) WatchCancel(ctx context.Context, runID uuid.UUID, onCancel func()) {
	WatchCancel(ctx, s.client, runID, s.poll, func() {
		s.logger.Info("cancel requested", slog.String("run_id", runID.String()))
		onCancel()
	})
}

func (s *Signals) Clear(ctx context.Context, runID uuid.UUID) {
	if err := ClearCancel(ctx, s.client, runID); err != nil {
		s.logger.Warn("clear cancel flag", slog.String("run_id", runID.String()), slog.String("error", err.Error()))
	}
}

// RequestCancel flags runID for the worker that owns it.
func (s *Signals) RequestCancel(ctx context.Context, runID uuid.UUID) error {
	return RequestCancel(ctx, s.client, runID, s.ttl)
}

func (s *Signals) Progress(ctx context.Context, runID uuid.UUID) (models.Progress, error) {
	return LoadProgress(ctx, s.client, runID)
}

func (s *Signals) Events(ctx context.Context, runID uuid.UUID, after string, count int64) ([]Event, error) {
	return ReadEvents(ctx, s.client, runID, after, count)
}

// Ping reports whether Valkey answers.
func (s *Signals) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}
