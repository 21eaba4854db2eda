package batches

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory Repo for dev mode and tests.
type MemoryRepo struct {
	mu      sync.RWMutex
	batches map[string]Batch
}

// NewMemoryRepo constructs an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{batches: make(map[string]Batch)}
}

func (r *MemoryRepo) Create(ctx context.Context, batch Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batch.Status == "" {
		batch.Status = StatusPending
	}
	r.batches[batch.ID] = batch
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, batchID string) (Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return batch, nil
}

func (r *MemoryRepo) List(ctx context.Context, userID, status string, limit, offset int) ([]Batch, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Batch
	for _, batch := range r.batches {
		if batch.UserID != userID {
			continue
		}
		if status != "" && batch.Status != status {
			continue
		}
		matched = append(matched, batch)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, batchID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok || batch.UserID != userID {
		return ErrNotFound
	}
	delete(r.batches, batchID)
	return nil
}

func (r *MemoryRepo) MarkProcessing(ctx context.Context, batchID string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if batch.Status != StatusPending {
		return nil
	}
	batch.Status = StatusProcessing
	batch.StartedAt = &startedAt
	r.batches[batchID] = batch
	return nil
}

func (r *MemoryRepo) IncrementProcessed(ctx context.Context, batchID string) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	batch.ProcessedDocs++
	r.batches[batchID] = batch
	return batch, nil
}

func (r *MemoryRepo) IncrementFailed(ctx context.Context, batchID string) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	batch.FailedDocs++
	r.batches[batchID] = batch
	return batch, nil
}

func (r *MemoryRepo) MarkCompleted(ctx context.Context, batchID string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if batch.Status == StatusCompleted {
		return nil
	}
	batch.Status = StatusCompleted
	batch.CompletedAt = &completedAt
	r.batches[batchID] = batch
	return nil
}

func (r *MemoryRepo) SaveReport(ctx context.Context, batchID string, report json.RawMessage, totalValue decimal.Decimal, totalOpportunities int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	batch.ConsolidatedReport = append(json.RawMessage(nil), report...)
	batch.TotalEstimatedValue = totalValue
	batch.TotalOpportunities = totalOpportunities
	r.batches[batchID] = batch
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
