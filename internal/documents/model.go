package documents

import "time"

// Document statuses. A document moves pending -> processing -> completed or
// failed; exactly one worker owns each transition.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Supported document types.
const (
	TypeDRE       = "dre"
	TypeBalanco   = "balanço"
	TypeBalancete = "balancete"
)

// ValidType reports whether documentType is one of the supported types.
func ValidType(documentType string) bool {
	switch documentType {
	case TypeDRE, TypeBalanco, TypeBalancete:
		return true
	default:
		return false
	}
}

// Tax regimes a company may declare.
const (
	RegimeLucroReal      = "lucro_real"
	RegimeLucroPresumido = "lucro_presumido"
	RegimeSimples        = "simples"
)

// CompanyInfo is optional company metadata attached to a document.
type CompanyInfo struct {
	Name   string `json:"name,omitempty"`
	CNPJ   string `json:"cnpj,omitempty"`
	Regime string `json:"regime,omitempty"`
}

// Document represents one uploaded file plus its processing state and
// extracted metadata. BatchID is nil for standalone analyses.
type Document struct {
	ID              string       `json:"id"`
	BatchID         *string      `json:"batchId,omitempty"`
	UserID          string       `json:"userId"`
	FileName        string       `json:"fileName"`
	MimeType        string       `json:"mimeType"`
	SizeBytes       int64        `json:"sizeBytes"`
	DocumentType    string       `json:"documentType"`
	Company         *CompanyInfo `json:"company,omitempty"`
	Status          string       `json:"status"`
	ExtractedPeriod *string      `json:"extractedPeriod,omitempty"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
	StorageKey      string       `json:"-"`
	ExtractedKey    string       `json:"-"`
	ProcessedAt     *time.Time   `json:"processedAt,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}
