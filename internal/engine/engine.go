// Package engine abstracts the external analysis service that turns document
// text into recoverable tax-credit opportunities.
package engine

import (
	"context"
	"errors"

	"taxrecovery-backend/internal/analyses"
	"taxrecovery-backend/internal/documents"
)

// Client invokes the external analysis capability for one document.
type Client interface {
	Analyze(ctx context.Context, input AnalyzeInput) (AnalyzeResult, error)
}

// AnalyzeInput captures everything the analysis service needs for one document.
type AnalyzeInput struct {
	Text         string
	DocumentType string
	Company      *documents.CompanyInfo
}

// AnalyzeResult is the structured outcome of one analysis call.
type AnalyzeResult struct {
	Opportunities    []analyses.Opportunity
	Recommendations  []string
	Alerts           []string
	ProcessingTimeMs int64
}

// ErrNotConfigured is returned by the placeholder client.
var ErrNotConfigured = errors.New("analysis engine not configured")

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// Analyze returns ErrNotConfigured.
func (PlaceholderClient) Analyze(ctx context.Context, input AnalyzeInput) (AnalyzeResult, error) {
	_ = ctx
	_ = input
	return AnalyzeResult{}, ErrNotConfigured
}
