package documents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Document // documentID -> document
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]Document)}
}

// Create stores a new document.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[doc.ID] = doc
	return nil
}

// GetByID returns a document by id.
func (r *MemoryRepo) GetByID(ctx context.Context, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// ListByBatch lists a batch's documents ordered by creation time then id.
func (r *MemoryRepo) ListByBatch(ctx context.Context, batchID string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Document
	for _, doc := range r.data {
		if doc.BatchID != nil && *doc.BatchID == batchID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetProcessing transitions a document to processing.
func (r *MemoryRepo) SetProcessing(ctx context.Context, documentID string) error {
	return r.update(ctx, documentID, func(doc *Document) {
		doc.Status = StatusProcessing
	})
}

// SetCompleted records a successful run.
func (r *MemoryRepo) SetCompleted(ctx context.Context, documentID string, extractedPeriod *string, storageKey, extractedKey string, processedAt time.Time) error {
	return r.update(ctx, documentID, func(doc *Document) {
		doc.Status = StatusCompleted
		doc.ExtractedPeriod = extractedPeriod
		doc.StorageKey = storageKey
		doc.ExtractedKey = extractedKey
		doc.ErrorMessage = ""
		at := processedAt
		doc.ProcessedAt = &at
	})
}

// SetFailed records a terminal failure.
func (r *MemoryRepo) SetFailed(ctx context.Context, documentID string, errorMessage string, processedAt time.Time) error {
	return r.update(ctx, documentID, func(doc *Document) {
		doc.Status = StatusFailed
		doc.ErrorMessage = errorMessage
		at := processedAt
		doc.ProcessedAt = &at
	})
}

func (r *MemoryRepo) update(ctx context.Context, documentID string, apply func(*Document)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[documentID]
	if !ok {
		return ErrNotFound
	}
	apply(&doc)
	r.data[documentID] = doc
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
