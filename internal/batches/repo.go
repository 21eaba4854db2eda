package batches

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Repo defines persistence operations for batches. Counter updates are
// atomic increments at the store level, never read-modify-write.
type Repo interface {
	Create(ctx context.Context, batch Batch) error
	GetByID(ctx context.Context, batchID string) (Batch, error)
	// List returns a page of the user's batches, newest first, optionally
	// filtered by status, plus the total match count.
	List(ctx context.Context, userID, status string, limit, offset int) ([]Batch, int64, error)
	Delete(ctx context.Context, batchID, userID string) error

	// MarkProcessing transitions pending -> processing and stamps StartedAt.
	// A no-op when the batch already left pending.
	MarkProcessing(ctx context.Context, batchID string, startedAt time.Time) error
	// IncrementProcessed atomically bumps processedDocs and returns the
	// updated batch, so the caller can detect the terminal transition.
	IncrementProcessed(ctx context.Context, batchID string) (Batch, error)
	// IncrementFailed atomically bumps failedDocs and returns the updated
	// batch.
	IncrementFailed(ctx context.Context, batchID string) (Batch, error)
	// MarkCompleted transitions the batch to completed. Idempotent.
	MarkCompleted(ctx context.Context, batchID string, completedAt time.Time) error
	// SaveReport stores the consolidated report and the derived totals.
	SaveReport(ctx context.Context, batchID string, report json.RawMessage, totalValue decimal.Decimal, totalOpportunities int) error
}
