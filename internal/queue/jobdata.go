package queue

import (
	"encoding/json"

	"taxrecovery-backend/internal/documents"
)

// DocumentJobData is the payload of one document-processing job.
type DocumentJobData struct {
	DocumentID   string                 `json:"documentId"`
	UserID       string                 `json:"userId"`
	BatchJobID   string                 `json:"batchJobId,omitempty"`
	FilePath     string                 `json:"filePath"`
	FileName     string                 `json:"fileName"`
	MimeType     string                 `json:"mimeType"`
	DocumentType string                 `json:"documentType"`
	CompanyInfo  *documents.CompanyInfo `json:"companyInfo,omitempty"`
}

// ConsolidationJobData is the payload of one batch-consolidation job.
type ConsolidationJobData struct {
	BatchJobID string `json:"batchJobId"`
	UserID     string `json:"userId"`
}

// DecodeDocumentJob parses a document job payload.
func DecodeDocumentJob(payload []byte) (DocumentJobData, error) {
	var data DocumentJobData
	if err := json.Unmarshal(payload, &data); err != nil {
		return DocumentJobData{}, err
	}
	return data, nil
}

// DecodeConsolidationJob parses a consolidation job payload.
func DecodeConsolidationJob(payload []byte) (ConsolidationJobData, error) {
	var data ConsolidationJobData
	if err := json.Unmarshal(payload, &data); err != nil {
		return ConsolidationJobData{}, err
	}
	return data, nil
}
