package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const analysisColumns = `id, document_id, user_id, opportunities, total_estimated_value, recommendations, alerts, processing_time_ms, created_at`

// Create inserts a new analysis.
func (r *PGRepo) Create(ctx context.Context, analysis Analysis) error {
	const query = `
INSERT INTO analyses (
    id,
    document_id,
    user_id,
    opportunities,
    total_estimated_value,
    recommendations,
    alerts,
    processing_time_ms,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	opps, err := json.Marshal(analysis.Opportunities)
	if err != nil {
		return fmt.Errorf("marshal opportunities: %w", err)
	}
	recs, err := json.Marshal(analysis.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	alerts, err := json.Marshal(analysis.Alerts)
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}

	_, err = r.DB.ExecContext(
		ctx,
		query,
		analysis.ID,
		analysis.DocumentID,
		analysis.UserID,
		opps,
		analysis.TotalEstimatedValue.String(),
		recs,
		alerts,
		analysis.ProcessingTimeMs,
		analysis.CreatedAt,
	)
	return err
}

// GetByID returns an analysis by its id.
func (r *PGRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, analysisID))
}

// GetByDocumentID returns the analysis recorded for a document.
func (r *PGRepo) GetByDocumentID(ctx context.Context, documentID string) (Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, documentID))
}

// ListByDocumentIDs returns the analyses for the given documents, ordered by
// creation time then id for deterministic consumption.
func (r *PGRepo) ListByDocumentIDs(ctx context.Context, documentIDs []string) ([]Analysis, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(documentIDs))
	args := make([]any, len(documentIDs))
	for i, id := range documentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE document_id IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY created_at, id`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, analysis)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PGRepo) scanOne(row *sql.Row) (Analysis, error) {
	analysis, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return analysis, nil
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var analysis Analysis
	var opps, recs, alerts []byte
	var total string
	if err := row.Scan(
		&analysis.ID,
		&analysis.DocumentID,
		&analysis.UserID,
		&opps,
		&total,
		&recs,
		&alerts,
		&analysis.ProcessingTimeMs,
		&analysis.CreatedAt,
	); err != nil {
		return Analysis{}, err
	}

	value, err := decimal.NewFromString(total)
	if err != nil {
		return Analysis{}, fmt.Errorf("parse total_estimated_value: %w", err)
	}
	analysis.TotalEstimatedValue = value

	if len(opps) > 0 {
		if err := json.Unmarshal(opps, &analysis.Opportunities); err != nil {
			return Analysis{}, fmt.Errorf("unmarshal opportunities: %w", err)
		}
	}
	if len(recs) > 0 {
		if err := json.Unmarshal(recs, &analysis.Recommendations); err != nil {
			return Analysis{}, fmt.Errorf("unmarshal recommendations: %w", err)
		}
	}
	if len(alerts) > 0 {
		if err := json.Unmarshal(alerts, &analysis.Alerts); err != nil {
			return Analysis{}, fmt.Errorf("unmarshal alerts: %w", err)
		}
	}
	return analysis, nil
}

var _ Repo = (*PGRepo)(nil)
