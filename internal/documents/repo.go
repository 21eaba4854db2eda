package documents

import (
	"context"
	"time"
)

// Repo defines persistence operations for documents.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, documentID string) (Document, error)
	// ListByBatch returns a batch's documents ordered by creation time then
	// id, so downstream aggregation is deterministic.
	ListByBatch(ctx context.Context, batchID string) ([]Document, error)
	SetProcessing(ctx context.Context, documentID string) error
	SetCompleted(ctx context.Context, documentID string, extractedPeriod *string, storageKey, extractedKey string, processedAt time.Time) error
	SetFailed(ctx context.Context, documentID string, errorMessage string, processedAt time.Time) error
}
