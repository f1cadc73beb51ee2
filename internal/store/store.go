// Package store persists run history in Postgres.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maraichr/cellforge/internal/store/postgres"
	"github.com/maraichr/cellforge/pkg/models"
)

var ErrNotFound = postgres.ErrNotFound

type Store struct {
	*postgres.Queries
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Queries: postgres.New(pool),
		pool:    pool,
	}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) WithTx(ctx context.Context, fn func(*postgres.Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FinishRun records a completion and how many results were written back,
// atomically with the result rows.
func (s *Store) FinishRun(ctx context.Context, c models.Completion, applied int) error {
	var errMsg *string
	if c.Err != "" {
		errMsg = &c.Err
	}
	return s.WithTx(ctx, func(q *postgres.Queries) error {
		if err := q.CompleteRun(ctx, postgres.CompleteRunParams{
			ID:           c.RunID,
			Status:       c.State,
			Succeeded:    c.Succeeded,
			Failed:       c.Failed,
			Applied:      applied,
			ErrorMessage: errMsg,
		}); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
		if err := q.InsertCellResults(ctx, c.RunID, c.Results); err != nil {
			return fmt.Errorf("store results: %w", err)
		}
		return nil
	})
}
