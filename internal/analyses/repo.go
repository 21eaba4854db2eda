package analyses

import "context"

// Repo defines persistence operations for analyses.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	GetByDocumentID(ctx context.Context, documentID string) (Analysis, error)
	ListByDocumentIDs(ctx context.Context, documentIDs []string) ([]Analysis, error)
}
