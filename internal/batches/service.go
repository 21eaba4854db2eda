package batches

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"taxrecovery-backend/internal/documents"
	"taxrecovery-backend/internal/extract"
	"taxrecovery-backend/internal/queue"
	"taxrecovery-backend/internal/shared/metrics"
	"taxrecovery-backend/internal/shared/telemetry"
	"taxrecovery-backend/internal/shared/util"
)

const (
	// MaxBatchFiles bounds how many documents one batch may carry.
	MaxBatchFiles = 200
	// MaxFileSize bounds a single uploaded file.
	MaxFileSize = 20 << 20 // 20MB
)

// Service is the batch job manager: it creates batches, fans documents out
// to the work queue and answers status questions from persisted state.
type Service struct {
	Repo     Repo
	DocRepo  documents.Repo
	DocQueue *queue.Queue
	ConQueue *queue.Queue
	TmpDir   string
}

// Status is the derived view returned for one batch.
type Status struct {
	BatchJobID          string               `json:"batchJobId"`
	Name                string               `json:"name"`
	Status              string               `json:"status"`
	Progress            int                  `json:"progress"`
	TotalDocuments      int                  `json:"totalDocuments"`
	ProcessedDocs       int                  `json:"processedDocs"`
	FailedDocs          int                  `json:"failedDocs"`
	TotalEstimatedValue decimal.Decimal      `json:"totalEstimatedValue"`
	TotalOpportunities  int                  `json:"totalOpportunities"`
	StartedAt           *time.Time           `json:"startedAt,omitempty"`
	CompletedAt         *time.Time           `json:"completedAt,omitempty"`
	Documents           []documents.Document `json:"documents"`
}

// CreateBatch validates every file up front, persists the batch and its
// documents, and enqueues one processing job per document. Validation
// failures reject the whole upload before anything is persisted.
func (s *Service) CreateBatch(ctx context.Context, userID, name, documentType string, company *documents.CompanyInfo, files []documents.UploadFile) (Batch, []documents.Document, error) {
	if userID == "" {
		return Batch{}, nil, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	if !documents.ValidType(documentType) {
		return Batch{}, nil, fmt.Errorf("%w: invalid documentType %q", ErrInvalidInput, documentType)
	}
	if len(files) == 0 {
		return Batch{}, nil, fmt.Errorf("%w: at least one file required", ErrInvalidInput)
	}
	if len(files) > MaxBatchFiles {
		return Batch{}, nil, fmt.Errorf("%w: batch exceeds %d files", ErrInvalidInput, MaxBatchFiles)
	}
	for _, f := range files {
		if strings.TrimSpace(f.FileName) == "" {
			return Batch{}, nil, fmt.Errorf("%w: file name required", ErrInvalidInput)
		}
		if f.SizeBytes > MaxFileSize {
			return Batch{}, nil, fmt.Errorf("%w: %s exceeds size limit", ErrInvalidInput, f.FileName)
		}
		if !extract.Supported(f.MimeType, f.FileName) {
			return Batch{}, nil, fmt.Errorf("%w: unsupported mime type for %s", ErrInvalidInput, f.FileName)
		}
	}

	now := time.Now().UTC()
	batch := Batch{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Name:                batchName(name, now),
		TotalDocuments:      len(files),
		Status:              StatusPending,
		TotalEstimatedValue: decimal.Zero,
		CreatedAt:           now,
	}
	if err := s.Repo.Create(ctx, batch); err != nil {
		return Batch{}, nil, fmt.Errorf("create batch: %w", err)
	}
	metrics.IncBatchCreated()

	docs := make([]documents.Document, 0, len(files))
	for i, f := range files {
		doc, err := s.admitDocument(ctx, userID, &batch.ID, documentType, company, f, now.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			// The batch exists already; the failed counter must advance
			// even when no document row was persisted, or the batch can
			// never reach a terminal state.
			telemetry.Error("batches.document_admit_failed", map[string]any{
				"batch_id":  batch.ID,
				"file_name": f.FileName,
				"error":     err.Error(),
			})
			if doc.ID != "" {
				_ = s.DocRepo.SetFailed(ctx, doc.ID, err.Error(), time.Now().UTC())
				docs = append(docs, doc)
			}
			updated, incErr := s.Repo.IncrementFailed(ctx, batch.ID)
			if incErr != nil {
				telemetry.Error("batches.increment_failed", map[string]any{
					"batch_id": batch.ID,
					"error":    incErr.Error(),
				})
				continue
			}
			s.finishIfTerminal(ctx, updated, userID)
			continue
		}
		docs = append(docs, doc)
	}

	telemetry.Info("batches.created", map[string]any{
		"batch_id":        batch.ID,
		"user_id":         util.HashUserKey(userID),
		"total_documents": batch.TotalDocuments,
		"document_type":   documentType,
	})
	return batch, docs, nil
}

func (s *Service) admitDocument(ctx context.Context, userID string, batchID *string, documentType string, company *documents.CompanyInfo, f documents.UploadFile, createdAt time.Time) (documents.Document, error) {
	filePath, written, err := documents.SpoolUpload(s.TmpDir, f, MaxFileSize)
	if err != nil {
		return documents.Document{}, err
	}

	doc := documents.Document{
		ID:           uuid.NewString(),
		BatchID:      batchID,
		UserID:       userID,
		FileName:     f.FileName,
		MimeType:     extract.NormalizeMimeType(f.MimeType, f.FileName, nil),
		SizeBytes:    written,
		DocumentType: documentType,
		Company:      company,
		Status:       documents.StatusPending,
		CreatedAt:    createdAt,
	}
	if err := s.DocRepo.Create(ctx, doc); err != nil {
		os.Remove(filePath)
		return documents.Document{}, fmt.Errorf("create document: %w", err)
	}

	data := queue.DocumentJobData{
		DocumentID:   doc.ID,
		UserID:       userID,
		FilePath:     filePath,
		FileName:     doc.FileName,
		MimeType:     doc.MimeType,
		DocumentType: documentType,
		CompanyInfo:  company,
	}
	if batchID != nil {
		data.BatchJobID = *batchID
	}
	if _, err := s.DocQueue.Enqueue(ctx, data); err != nil {
		os.Remove(filePath)
		return doc, fmt.Errorf("enqueue document job: %w", err)
	}
	metrics.IncJobEnqueued()
	return doc, nil
}

// finishIfTerminal closes out a batch whose final counter update happened
// during admission, when every per-file job had already resolved or was
// never enqueued. Increments are atomic, so at most one caller observes the
// transition; batches finished by in-flight workers take the processor's
// path instead.
func (s *Service) finishIfTerminal(ctx context.Context, batch Batch, userID string) {
	if !batch.Terminal() {
		return
	}
	if err := s.Repo.MarkCompleted(ctx, batch.ID, time.Now().UTC()); err != nil {
		telemetry.Error("batches.mark_completed", map[string]any{
			"batch_id": batch.ID,
			"error":    err.Error(),
		})
		return
	}
	metrics.IncBatchCompleted()
	if s.ConQueue == nil {
		return
	}
	payload := queue.ConsolidationJobData{BatchJobID: batch.ID, UserID: userID}
	if _, err := s.ConQueue.Enqueue(ctx, payload); err != nil {
		telemetry.Error("batches.enqueue_consolidation", map[string]any{
			"batch_id": batch.ID,
			"error":    err.Error(),
		})
		return
	}
	metrics.IncJobEnqueued()
}

// GetStatus returns the batch's derived progress view.
func (s *Service) GetStatus(ctx context.Context, userID, batchID string) (Status, error) {
	batch, err := s.ownedBatch(ctx, userID, batchID)
	if err != nil {
		return Status{}, err
	}
	docs, err := s.DocRepo.ListByBatch(ctx, batchID)
	if err != nil {
		return Status{}, fmt.Errorf("list batch documents: %w", err)
	}
	return Status{
		BatchJobID:          batch.ID,
		Name:                batch.Name,
		Status:              batch.Status,
		Progress:            batch.Progress(),
		TotalDocuments:      batch.TotalDocuments,
		ProcessedDocs:       batch.ProcessedDocs,
		FailedDocs:          batch.FailedDocs,
		TotalEstimatedValue: batch.TotalEstimatedValue,
		TotalOpportunities:  batch.TotalOpportunities,
		StartedAt:           batch.StartedAt,
		CompletedAt:         batch.CompletedAt,
		Documents:           docs,
	}, nil
}

// GetReport returns the persisted consolidated report. The batch must be
// completed; callers translate ErrNotCompleted into a 400.
func (s *Service) GetReport(ctx context.Context, userID, batchID string) (json.RawMessage, error) {
	batch, err := s.ownedBatch(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != StatusCompleted {
		return nil, ErrNotCompleted
	}
	if len(batch.ConsolidatedReport) == 0 {
		return nil, ErrNotCompleted
	}
	return batch.ConsolidatedReport, nil
}

// List returns one page of the user's batches.
func (s *Service) List(ctx context.Context, userID, status string, page, pageSize int) ([]Batch, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	if status != "" && !validStatus(status) {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrInvalidInput, status)
	}
	return s.Repo.List(ctx, userID, status, pageSize, (page-1)*pageSize)
}

// Delete removes the batch record. In-flight jobs are left to drain; their
// counter updates hit a row that no longer exists and are ignored.
func (s *Service) Delete(ctx context.Context, userID, batchID string) error {
	return s.Repo.Delete(ctx, batchID, userID)
}

func (s *Service) ownedBatch(ctx context.Context, userID, batchID string) (Batch, error) {
	batch, err := s.Repo.GetByID(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if batch.UserID != userID {
		return Batch{}, ErrNotFound
	}
	return batch, nil
}

func batchName(name string, now time.Time) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return "Lote " + now.Format("2006-01-02 15:04")
}

func validStatus(status string) bool {
	switch status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}
