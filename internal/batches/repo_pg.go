package batches

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const batchColumns = `id, user_id, name, total_documents, processed_docs, failed_docs, status, total_estimated_value, total_opportunities, started_at, completed_at, consolidated_report, created_at`

// Create inserts a new batch.
func (r *PGRepo) Create(ctx context.Context, batch Batch) error {
	const query = `
INSERT INTO batches (
    id,
    user_id,
    name,
    total_documents,
    processed_docs,
    failed_docs,
    status,
    total_estimated_value,
    total_opportunities,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	status := batch.Status
	if status == "" {
		status = StatusPending
	}

	_, err := r.DB.ExecContext(
		ctx,
		query,
		batch.ID,
		batch.UserID,
		batch.Name,
		batch.TotalDocuments,
		batch.ProcessedDocs,
		batch.FailedDocs,
		status,
		batch.TotalEstimatedValue.String(),
		batch.TotalOpportunities,
		batch.CreatedAt,
	)
	return err
}

// GetByID fetches a batch by id.
func (r *PGRepo) GetByID(ctx context.Context, batchID string) (Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`
	batch, err := scanBatch(r.DB.QueryRowContext(ctx, query, batchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

// List returns a page of the user's batches, newest first, optionally
// filtered by status.
func (r *PGRepo) List(ctx context.Context, userID, status string, limit, offset int) ([]Batch, int64, error) {
	countQuery := `SELECT COUNT(*) FROM batches WHERE user_id = $1`
	listQuery := `SELECT ` + batchColumns + ` FROM batches WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		countQuery += ` AND status = $2`
		listQuery += ` AND status = $2`
		args = append(args, status)
	}
	listQuery += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	var total int64
	if err := r.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.DB.QueryContext(ctx, listQuery, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, batch)
	}
	return out, total, rows.Err()
}

// Delete removes a batch row owned by the user. Documents and analyses are
// kept; in-flight jobs drain against the orphaned id.
func (r *PGRepo) Delete(ctx context.Context, batchID, userID string) error {
	const query = `DELETE FROM batches WHERE id = $1 AND user_id = $2`
	res, err := r.DB.ExecContext(ctx, query, batchID, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessing transitions pending -> processing. Only the first worker
// to get here flips the status; later calls are no-ops.
func (r *PGRepo) MarkProcessing(ctx context.Context, batchID string, startedAt time.Time) error {
	const query = `
UPDATE batches
SET status = $1, started_at = $2
WHERE id = $3 AND status = $4`
	_, err := r.DB.ExecContext(ctx, query, StatusProcessing, startedAt, batchID, StatusPending)
	return err
}

// IncrementProcessed atomically bumps processedDocs and returns the updated
// row. The increment happens in the database so concurrent workers never
// lose an update.
func (r *PGRepo) IncrementProcessed(ctx context.Context, batchID string) (Batch, error) {
	query := `
UPDATE batches
SET processed_docs = processed_docs + 1
WHERE id = $1
RETURNING ` + batchColumns
	return r.scanUpdated(r.DB.QueryRowContext(ctx, query, batchID))
}

// IncrementFailed atomically bumps failedDocs and returns the updated row.
func (r *PGRepo) IncrementFailed(ctx context.Context, batchID string) (Batch, error) {
	query := `
UPDATE batches
SET failed_docs = failed_docs + 1
WHERE id = $1
RETURNING ` + batchColumns
	return r.scanUpdated(r.DB.QueryRowContext(ctx, query, batchID))
}

// MarkCompleted transitions the batch to completed. Idempotent.
func (r *PGRepo) MarkCompleted(ctx context.Context, batchID string, completedAt time.Time) error {
	const query = `
UPDATE batches
SET status = $1, completed_at = $2
WHERE id = $3 AND status <> $1`
	_, err := r.DB.ExecContext(ctx, query, StatusCompleted, completedAt, batchID)
	return err
}

// SaveReport stores the consolidated report and derived totals.
func (r *PGRepo) SaveReport(ctx context.Context, batchID string, report json.RawMessage, totalValue decimal.Decimal, totalOpportunities int) error {
	const query = `
UPDATE batches
SET consolidated_report = $1, total_estimated_value = $2, total_opportunities = $3
WHERE id = $4`
	res, err := r.DB.ExecContext(ctx, query, []byte(report), totalValue.String(), totalOpportunities, batchID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) scanUpdated(row *sql.Row) (Batch, error) {
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (Batch, error) {
	var batch Batch
	var total string
	var startedAt, completedAt sql.NullTime
	var report []byte
	if err := row.Scan(
		&batch.ID,
		&batch.UserID,
		&batch.Name,
		&batch.TotalDocuments,
		&batch.ProcessedDocs,
		&batch.FailedDocs,
		&batch.Status,
		&total,
		&batch.TotalOpportunities,
		&startedAt,
		&completedAt,
		&report,
		&batch.CreatedAt,
	); err != nil {
		return Batch{}, err
	}

	value, err := decimal.NewFromString(total)
	if err != nil {
		return Batch{}, fmt.Errorf("parse total_estimated_value: %w", err)
	}
	batch.TotalEstimatedValue = value

	if startedAt.Valid {
		batch.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		batch.CompletedAt = &completedAt.Time
	}
	if len(report) > 0 {
		batch.ConsolidatedReport = json.RawMessage(report)
	}
	return batch, nil
}

var _ Repo = (*PGRepo)(nil)
