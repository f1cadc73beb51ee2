package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maraichr/cellforge/pkg/models"
)

const runColumns = `id, status, source, columns, context_columns, start_row, end_row,
       filter, system_prompt, user_prompt, backend, model, batch_size,
       temperature, max_tokens, auto_save, total, succeeded, failed, applied,
       error_message, created_at, started_at, finished_at`

func scanRun(row pgx.Row) (models.Run, error) {
	var r models.Run
	err := row.Scan(
		&r.ID, &r.Status, &r.Source, &r.Columns, &r.ContextColumns, &r.StartRow, &r.EndRow,
		&r.Filter, &r.SystemPrompt, &r.UserPrompt, &r.Backend, &r.Model, &r.BatchSize,
		&r.Temperature, &r.MaxTokens, &r.AutoSave, &r.Total, &r.Succeeded, &r.Failed, &r.Applied,
		&r.ErrorMessage, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	)
	return r, err
}

// CreateRun inserts r and fills CreatedAt.
func (q *Queries) CreateRun(ctx context.Context, r *models.Run) error {
	if r.ContextColumns == nil {
		r.ContextColumns = []string{}
	}
	return q.db.QueryRow(ctx,
		`INSERT INTO runs (id, status, source, columns, context_columns, start_row, end_row,
		                   filter, system_prompt, user_prompt, backend, model, batch_size,
		                   temperature, max_tokens, auto_save, total)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING created_at`,
		r.ID, string(r.Status), r.Source, r.Columns, r.ContextColumns, r.StartRow, r.EndRow,
		r.Filter, r.SystemPrompt, r.UserPrompt, r.Backend, r.Model, r.BatchSize,
		r.Temperature, r.MaxTokens, r.AutoSave, r.Total,
	).Scan(&r.CreatedAt)
}

func (q *Queries) GetRun(ctx context.Context, id uuid.UUID) (models.Run, error) {
	r, err := scanRun(q.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, ErrNotFound
	}
	return r, err
}

type ListRunsParams struct {
	Status models.RunState // empty lists every status
	Limit  int32
	Offset int32
}

func (q *Queries) ListRuns(ctx context.Context, arg ListRunsParams) ([]models.Run, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+runColumns+`
		 FROM runs
		 WHERE $1::text = '' OR status = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		string(arg.Status), arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// MarkRunStarted moves a queued run to running. Returns ErrNotFound when the
// run does not exist or already left the queued state.
func (q *Queries) MarkRunStarted(ctx context.Context, id uuid.UUID, total int) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE runs SET status = 'running', total = $2, started_at = now()
		 WHERE id = $1 AND status = 'queued'`, id, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunState, errMsg *string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE runs
		 SET status = $2,
		     error_message = COALESCE($3::text, error_message),
		     finished_at = CASE WHEN $4::boolean THEN now() ELSE finished_at END
		 WHERE id = $1`,
		id, string(status), errMsg, status.Terminal())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type CompleteRunParams struct {
	ID           uuid.UUID
	Status       models.RunState
	Succeeded    int
	Failed       int
	Applied      int
	ErrorMessage *string
}

func (q *Queries) CompleteRun(ctx context.Context, arg CompleteRunParams) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE runs
		 SET status = $2, succeeded = $3, failed = $4, applied = $5,
		     error_message = $6, finished_at = now()
		 WHERE id = $1`,
		arg.ID, string(arg.Status), arg.Succeeded, arg.Failed, arg.Applied, arg.ErrorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertCellResults stores results in order, pipelined in one round trip.
func (q *Queries) InsertCellResults(ctx context.Context, runID uuid.UUID, results []models.CellResult) error {
	if len(results) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for i, r := range results {
		b.Queue(
			`INSERT INTO cell_results (run_id, seq, row_index, column_name, success, value, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (run_id, seq) DO UPDATE
			 SET success = EXCLUDED.success, value = EXCLUDED.value, error = EXCLUDED.error`,
			runID, i, r.Row, r.Column, r.Success, r.Value, r.Error)
	}
	br := q.db.SendBatch(ctx, b)
	defer br.Close()
	for i := range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert result %d: %w", i, err)
		}
	}
	return nil
}

type ListCellResultsParams struct {
	RunID      uuid.UUID
	FailedOnly bool
	Limit      int32
	Offset     int32
}

func (q *Queries) ListCellResults(ctx context.Context, arg ListCellResultsParams) ([]models.CellResult, error) {
	rows, err := q.db.Query(ctx,
		`SELECT row_index, column_name, success, value, error
		 FROM cell_results
		 WHERE run_id = $1 AND (NOT $2::boolean OR NOT success)
		 ORDER BY seq
		 LIMIT $3 OFFSET $4`,
		arg.RunID, arg.FailedOnly, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.CellResult{}
	for rows.Next() {
		var r models.CellResult
		if err := rows.Scan(&r.Row, &r.Column, &r.Success, &r.Value, &r.Error); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
