// Package procdoc runs the per-document worker pipeline: load the spooled
// file, archive it, extract text, detect the fiscal period, call the
// analysis engine and persist the resulting analysis, then update the
// parent batch's counters.
package procdoc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"taxrecovery-backend/internal/analyses"
	"taxrecovery-backend/internal/batches"
	"taxrecovery-backend/internal/consolidate"
	"taxrecovery-backend/internal/documents"
	"taxrecovery-backend/internal/engine"
	"taxrecovery-backend/internal/extract"
	"taxrecovery-backend/internal/period"
	"taxrecovery-backend/internal/queue"
	"taxrecovery-backend/internal/shared/metrics"
	"taxrecovery-backend/internal/shared/storage/object"
	"taxrecovery-backend/internal/shared/telemetry"
)

// ErrDecode indicates a job payload that could not be parsed.
type ErrDecode struct {
	Err error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode job payload"
	}
	return "decode job payload: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// StepError reports which pipeline step failed for which document.
type StepError struct {
	Step       string
	DocumentID string
	Err        error
}

func (e StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e StepError) Unwrap() error { return e.Err }

// Processor owns the document pipeline and the consolidation handler.
type Processor struct {
	Docs        documents.Repo
	Analyses    analyses.Repo
	Batches     batches.Repo
	Extractor   extract.TextExtractor
	Engine      engine.Client
	Store       object.ObjectStore
	ConQueue    *queue.Queue
	Consolidate *consolidate.Service
}

// HandleDocumentJob processes one queued document. An error return leaves
// retry and terminal-failure bookkeeping to the queue; the terminal failure
// path runs through HandleDocumentFailure via the pool's failure callback.
func (p *Processor) HandleDocumentJob(ctx context.Context, job queue.Job) error {
	data, err := queue.DecodeDocumentJob(job.Payload)
	if err != nil {
		return ErrDecode{Err: err}
	}
	if strings.TrimSpace(data.DocumentID) == "" {
		return ErrDecode{Err: fmt.Errorf("missing document id")}
	}

	started := time.Now()
	if err := p.process(ctx, data); err != nil {
		return err
	}
	metrics.ObserveDocumentDurationMs(float64(time.Since(started).Milliseconds()))
	metrics.IncDocumentProcessed()
	return nil
}

func (p *Processor) process(ctx context.Context, data queue.DocumentJobData) error {
	raw, err := os.ReadFile(data.FilePath)
	if err != nil {
		return StepError{Step: "read file", DocumentID: data.DocumentID, Err: err}
	}

	if err := p.Docs.SetProcessing(ctx, data.DocumentID); err != nil {
		return StepError{Step: "mark processing", DocumentID: data.DocumentID, Err: err}
	}
	if data.BatchJobID != "" {
		// First worker to reach a pending batch flips it to processing.
		if err := p.Batches.MarkProcessing(ctx, data.BatchJobID, time.Now().UTC()); err != nil {
			return StepError{Step: "mark batch processing", DocumentID: data.DocumentID, Err: err}
		}
	}

	storageKey := path.Join("documents", data.DocumentID, "original", data.FileName)
	if _, err := p.Store.SaveWithKey(ctx, storageKey, data.MimeType, bytes.NewReader(raw)); err != nil {
		return StepError{Step: "archive original", DocumentID: data.DocumentID, Err: err}
	}

	text, err := p.Extractor.Text(ctx, raw, data.MimeType, data.FileName)
	if err != nil {
		return StepError{Step: "extract text", DocumentID: data.DocumentID, Err: err}
	}

	extractedKey := path.Join("documents", data.DocumentID, "extracted.txt")
	if _, err := p.Store.SaveWithKey(ctx, extractedKey, "text/plain", strings.NewReader(text)); err != nil {
		return StepError{Step: "archive text", DocumentID: data.DocumentID, Err: err}
	}

	info := period.Extract(text, data.FileName)
	var extractedPeriod *string
	if info.Period != "" {
		extractedPeriod = &info.Period
	}

	result, err := p.Engine.Analyze(ctx, engine.AnalyzeInput{
		Text:         text,
		DocumentType: data.DocumentType,
		Company:      data.CompanyInfo,
	})
	if err != nil {
		return StepError{Step: "analyze", DocumentID: data.DocumentID, Err: err}
	}

	analysis := analyses.Analysis{
		ID:                  uuid.NewString(),
		DocumentID:          data.DocumentID,
		UserID:              data.UserID,
		Opportunities:       result.Opportunities,
		TotalEstimatedValue: analyses.SumOpportunities(result.Opportunities),
		Recommendations:     result.Recommendations,
		Alerts:              result.Alerts,
		ProcessingTimeMs:    result.ProcessingTimeMs,
		CreatedAt:           time.Now().UTC(),
	}
	if err := p.Analyses.Create(ctx, analysis); err != nil {
		return StepError{Step: "persist analysis", DocumentID: data.DocumentID, Err: err}
	}

	now := time.Now().UTC()
	if err := p.Docs.SetCompleted(ctx, data.DocumentID, extractedPeriod, storageKey, extractedKey, now); err != nil {
		return StepError{Step: "mark completed", DocumentID: data.DocumentID, Err: err}
	}

	// Terminal state reached: only now is the spooled upload expendable.
	removeSpooled(data.FilePath)

	telemetry.Info("procdoc.document_completed", map[string]any{
		"document_id": data.DocumentID,
		"batch_id":    data.BatchJobID,
		"period":      info.Period,
		"total_value": analysis.TotalEstimatedValue.String(),
	})

	if data.BatchJobID != "" {
		updated, err := p.Batches.IncrementProcessed(ctx, data.BatchJobID)
		if err != nil {
			return StepError{Step: "increment processed", DocumentID: data.DocumentID, Err: err}
		}
		p.finishIfTerminal(ctx, updated, data.UserID)
	}
	return nil
}

// HandleDocumentFailure records a terminal job failure against the document
// and its batch. Installed as the pool's failure callback, so it runs
// synchronously for every terminal failure, after retries are
// exhausted or the job timed out.
func (p *Processor) HandleDocumentFailure(ctx context.Context, job queue.Job, jobErr string) {
	data, err := queue.DecodeDocumentJob(job.Payload)
	if err != nil {
		telemetry.Error("procdoc.failure_decode", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return
	}
	removeSpooled(data.FilePath)

	now := time.Now().UTC()
	if err := p.Docs.SetFailed(ctx, data.DocumentID, jobErr, now); err != nil {
		telemetry.Error("procdoc.mark_failed", map[string]any{
			"document_id": data.DocumentID,
			"error":       err.Error(),
		})
	}
	metrics.IncDocumentFailed()

	telemetry.Error("procdoc.document_failed", map[string]any{
		"document_id": data.DocumentID,
		"batch_id":    data.BatchJobID,
		"error":       jobErr,
	})

	if data.BatchJobID == "" {
		return
	}
	updated, err := p.Batches.IncrementFailed(ctx, data.BatchJobID)
	if err != nil {
		telemetry.Error("procdoc.increment_failed", map[string]any{
			"batch_id": data.BatchJobID,
			"error":    err.Error(),
		})
		return
	}
	p.finishIfTerminal(ctx, updated, data.UserID)
}

// finishIfTerminal marks the batch completed and schedules consolidation
// when the caller's counter update was the one that made the batch terminal.
// Increments are atomic, so exactly one worker observes the transition.
func (p *Processor) finishIfTerminal(ctx context.Context, batch batches.Batch, userID string) {
	if !batch.Terminal() {
		return
	}
	if err := p.Batches.MarkCompleted(ctx, batch.ID, time.Now().UTC()); err != nil {
		telemetry.Error("procdoc.mark_batch_completed", map[string]any{
			"batch_id": batch.ID,
			"error":    err.Error(),
		})
		return
	}
	metrics.IncBatchCompleted()
	telemetry.Info("procdoc.batch_completed", map[string]any{
		"batch_id":       batch.ID,
		"processed_docs": batch.ProcessedDocs,
		"failed_docs":    batch.FailedDocs,
	})

	if p.ConQueue == nil {
		return
	}
	payload := queue.ConsolidationJobData{BatchJobID: batch.ID, UserID: userID}
	if _, err := p.ConQueue.Enqueue(ctx, payload); err != nil {
		telemetry.Error("procdoc.enqueue_consolidation", map[string]any{
			"batch_id": batch.ID,
			"error":    err.Error(),
		})
		return
	}
	metrics.IncJobEnqueued()
}

// HandleConsolidationJob recomputes one batch's consolidated report.
func (p *Processor) HandleConsolidationJob(ctx context.Context, job queue.Job) error {
	data, err := queue.DecodeConsolidationJob(job.Payload)
	if err != nil {
		return ErrDecode{Err: err}
	}
	if strings.TrimSpace(data.BatchJobID) == "" {
		return ErrDecode{Err: fmt.Errorf("missing batch id")}
	}
	if _, err := p.Consolidate.Consolidate(ctx, data.BatchJobID); err != nil {
		return fmt.Errorf("consolidate batch %s: %w", data.BatchJobID, err)
	}
	return nil
}

func removeSpooled(filePath string) {
	if filePath == "" {
		return
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		telemetry.Error("procdoc.remove_spooled", map[string]any{
			"file_path": filePath,
			"error":     err.Error(),
		})
	}
}
