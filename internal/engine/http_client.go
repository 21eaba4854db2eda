package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"taxrecovery-backend/internal/analyses"
	"taxrecovery-backend/internal/documents"
)

const defaultAnalyzeTimeout = 120 * time.Second

// HTTPClient calls the analysis service over HTTP.
type HTTPClient struct {
	client *resty.Client
}

// Config holds the analysis service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPClient constructs an HTTP-backed analysis client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("analysis engine base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAnalyzeTimeout
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		client.SetHeader("Authorization", "Bearer "+key)
	}

	return &HTTPClient{client: client}, nil
}

type analyzeRequest struct {
	Text         string                 `json:"text"`
	DocumentType string                 `json:"documentType"`
	Company      *documents.CompanyInfo `json:"company,omitempty"`
}

type analyzeResponse struct {
	Opportunities   []analyses.Opportunity `json:"opportunities"`
	Recommendations []string               `json:"recommendations"`
	Alerts          []string               `json:"alerts"`
}

// Analyze posts the document text to the analysis service and returns the
// identified opportunities. Elapsed wall time is recorded as the processing
// time.
func (c *HTTPClient) Analyze(ctx context.Context, input AnalyzeInput) (AnalyzeResult, error) {
	started := time.Now()

	var parsed analyzeResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(analyzeRequest{
			Text:         input.Text,
			DocumentType: input.DocumentType,
			Company:      input.Company,
		}).
		SetResult(&parsed).
		Post("/analyze")
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("analysis engine request: %w", err)
	}
	if resp.IsError() {
		return AnalyzeResult{}, fmt.Errorf("analysis engine http status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	return AnalyzeResult{
		Opportunities:    parsed.Opportunities,
		Recommendations:  parsed.Recommendations,
		Alerts:           parsed.Alerts,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}, nil
}

var _ Client = (*HTTPClient)(nil)
