package documents

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"taxrecovery-backend/internal/analyses"
	"taxrecovery-backend/internal/extract"
	"taxrecovery-backend/internal/shared/telemetry"
)

// maxFileSize bounds a standalone uploaded document.
const maxFileSize = 20 << 20 // 20MB

// Dispatch hands an admitted document to the work queue. The composition
// root binds it to the document queue; keeping it a function avoids a
// package cycle with the queue's job payloads.
type Dispatch func(ctx context.Context, doc Document, filePath string) error

// Service handles standalone single-document analysis, the batch-less path
// through the same worker pipeline.
type Service struct {
	Repo     Repo
	Analyses analyses.Repo
	TmpDir   string
	Dispatch Dispatch
}

// Analyze validates and spools one file, records a batch-less document and
// dispatches its processing job.
func (s *Service) Analyze(ctx context.Context, userID, documentType string, company *CompanyInfo, f UploadFile) (Document, error) {
	if userID == "" {
		return Document{}, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	if !ValidType(documentType) {
		return Document{}, fmt.Errorf("%w: invalid documentType %q", ErrInvalidInput, documentType)
	}
	if strings.TrimSpace(f.FileName) == "" {
		return Document{}, fmt.Errorf("%w: file name required", ErrInvalidInput)
	}
	if f.SizeBytes > maxFileSize {
		return Document{}, fmt.Errorf("%w: %s exceeds size limit", ErrInvalidInput, f.FileName)
	}
	if !extract.Supported(f.MimeType, f.FileName) {
		return Document{}, fmt.Errorf("%w: unsupported mime type for %s", ErrInvalidInput, f.FileName)
	}

	filePath, written, err := SpoolUpload(s.TmpDir, f, maxFileSize)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		ID:           uuid.NewString(),
		UserID:       userID,
		FileName:     f.FileName,
		MimeType:     extract.NormalizeMimeType(f.MimeType, f.FileName, nil),
		SizeBytes:    written,
		DocumentType: documentType,
		Company:      company,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		os.Remove(filePath)
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	if err := s.Dispatch(ctx, doc, filePath); err != nil {
		os.Remove(filePath)
		return Document{}, fmt.Errorf("dispatch document job: %w", err)
	}

	telemetry.Info("documents.analyze_accepted", map[string]any{
		"document_id":   doc.ID,
		"document_type": documentType,
		"mime_type":     doc.MimeType,
	})
	return doc, nil
}

// Get returns one of the user's documents.
func (s *Service) Get(ctx context.Context, userID, documentID string) (Document, error) {
	doc, err := s.Repo.GetByID(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if doc.UserID != userID {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// GetAnalysis returns the analysis recorded for one of the user's documents.
func (s *Service) GetAnalysis(ctx context.Context, userID, documentID string) (analyses.Analysis, error) {
	if _, err := s.Get(ctx, userID, documentID); err != nil {
		return analyses.Analysis{}, err
	}
	return s.Analyses.GetByDocumentID(ctx, documentID)
}
