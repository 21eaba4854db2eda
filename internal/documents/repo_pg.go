package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `id, batch_id, user_id, file_name, mime_type, size_bytes, document_type, company_info, status, extracted_period, error_message, storage_key, extracted_key, processed_at, created_at`

// Create inserts a new document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id,
    batch_id,
    user_id,
    file_name,
    mime_type,
    size_bytes,
    document_type,
    company_info,
    status,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var batchID sql.NullString
	if doc.BatchID != nil {
		batchID = sql.NullString{String: *doc.BatchID, Valid: true}
	}

	var company []byte
	if doc.Company != nil {
		encoded, err := json.Marshal(doc.Company)
		if err != nil {
			return fmt.Errorf("marshal company info: %w", err)
		}
		company = encoded
	}

	status := doc.Status
	if status == "" {
		status = StatusPending
	}

	_, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		batchID,
		doc.UserID,
		doc.FileName,
		doc.MimeType,
		doc.SizeBytes,
		doc.DocumentType,
		company,
		status,
		doc.CreatedAt,
	)
	return err
}

// GetByID fetches a document by id.
func (r *PGRepo) GetByID(ctx context.Context, documentID string) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// ListByBatch lists a batch's documents ordered by creation time then id.
func (r *PGRepo) ListByBatch(ctx context.Context, batchID string) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE batch_id = $1 ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// SetProcessing transitions a pending document to processing.
func (r *PGRepo) SetProcessing(ctx context.Context, documentID string) error {
	const query = `UPDATE documents SET status = $1 WHERE id = $2`
	_, err := r.DB.ExecContext(ctx, query, StatusProcessing, documentID)
	return err
}

// SetCompleted records a successful run: terminal status, extracted period
// and the storage keys of the archived original and extracted text.
func (r *PGRepo) SetCompleted(ctx context.Context, documentID string, extractedPeriod *string, storageKey, extractedKey string, processedAt time.Time) error {
	const query = `
UPDATE documents
SET status = $1, extracted_period = $2, storage_key = $3, extracted_key = $4, error_message = NULL, processed_at = $5
WHERE id = $6`

	var periodVal sql.NullString
	if extractedPeriod != nil {
		periodVal = sql.NullString{String: *extractedPeriod, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx, query, StatusCompleted, periodVal, storageKey, extractedKey, processedAt, documentID)
	return err
}

// SetFailed records a terminal failure with the failing step's error.
func (r *PGRepo) SetFailed(ctx context.Context, documentID string, errorMessage string, processedAt time.Time) error {
	const query = `
UPDATE documents
SET status = $1, error_message = $2, processed_at = $3
WHERE id = $4`
	_, err := r.DB.ExecContext(ctx, query, StatusFailed, errorMessage, processedAt, documentID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var batchID sql.NullString
	var company []byte
	var extractedPeriod sql.NullString
	var errorMessage sql.NullString
	var storageKey sql.NullString
	var extractedKey sql.NullString
	var processedAt sql.NullTime
	if err := row.Scan(
		&doc.ID,
		&batchID,
		&doc.UserID,
		&doc.FileName,
		&doc.MimeType,
		&doc.SizeBytes,
		&doc.DocumentType,
		&company,
		&doc.Status,
		&extractedPeriod,
		&errorMessage,
		&storageKey,
		&extractedKey,
		&processedAt,
		&doc.CreatedAt,
	); err != nil {
		return Document{}, err
	}
	if batchID.Valid {
		doc.BatchID = &batchID.String
	}
	if len(company) > 0 {
		var info CompanyInfo
		if err := json.Unmarshal(company, &info); err != nil {
			return Document{}, fmt.Errorf("unmarshal company info: %w", err)
		}
		doc.Company = &info
	}
	if extractedPeriod.Valid {
		doc.ExtractedPeriod = &extractedPeriod.String
	}
	if errorMessage.Valid {
		doc.ErrorMessage = errorMessage.String
	}
	if storageKey.Valid {
		doc.StorageKey = storageKey.String
	}
	if extractedKey.Valid {
		doc.ExtractedKey = extractedKey.String
	}
	if processedAt.Valid {
		doc.ProcessedAt = &processedAt.Time
	}
	return doc, nil
}

var _ Repo = (*PGRepo)(nil)
