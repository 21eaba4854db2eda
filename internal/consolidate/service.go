package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taxrecovery-backend/internal/analyses"
	"taxrecovery-backend/internal/batches"
	"taxrecovery-backend/internal/documents"
	"taxrecovery-backend/internal/shared/telemetry"
)

// Service loads a batch snapshot, builds the consolidated report and
// persists it. Concurrent runs for the same batch are safe: the aggregation
// is idempotent and the last writer wins with no partial state.
type Service struct {
	Batches  batches.Repo
	Docs     documents.Repo
	Analyses analyses.Repo
}

// Consolidate recomputes and persists the report for one batch. A failure
// leaves any previously stored report untouched.
func (s *Service) Consolidate(ctx context.Context, batchID string) (Report, error) {
	batch, err := s.Batches.GetByID(ctx, batchID)
	if err != nil {
		return Report{}, fmt.Errorf("load batch: %w", err)
	}

	docs, err := s.Docs.ListByBatch(ctx, batchID)
	if err != nil {
		return Report{}, fmt.Errorf("list batch documents: %w", err)
	}

	var completedIDs []string
	for _, doc := range docs {
		if doc.Status == documents.StatusCompleted {
			completedIDs = append(completedIDs, doc.ID)
		}
	}
	results, err := s.Analyses.ListByDocumentIDs(ctx, completedIDs)
	if err != nil {
		return Report{}, fmt.Errorf("list analyses: %w", err)
	}

	report := Build(batchID, docs, results, time.Now().UTC())

	encoded, err := json.Marshal(report)
	if err != nil {
		return Report{}, fmt.Errorf("encode report: %w", err)
	}
	if err := s.Batches.SaveReport(ctx, batchID, encoded, report.Summary.TotalEstimatedValue, report.Summary.TotalOpportunities); err != nil {
		return Report{}, fmt.Errorf("save report: %w", err)
	}

	telemetry.Info("consolidate.report_saved", map[string]any{
		"batch_id":             batch.ID,
		"successful_documents": report.Summary.SuccessfulDocuments,
		"failed_documents":     report.Summary.FailedDocuments,
		"total_value":          report.Summary.TotalEstimatedValue.String(),
	})
	return report, nil
}
