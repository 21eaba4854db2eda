package batches

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Batch statuses. A batch is completed only once every document reached a
// terminal state, regardless of how many failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Batch groups documents processed together and reported on as a unit.
// Counters are mutated only through atomic increments; the consolidator
// fills ConsolidatedReport and the totals after the batch is terminal.
type Batch struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"userId"`
	Name                string          `json:"name"`
	TotalDocuments      int             `json:"totalDocuments"`
	ProcessedDocs       int             `json:"processedDocs"`
	FailedDocs          int             `json:"failedDocs"`
	Status              string          `json:"status"`
	TotalEstimatedValue decimal.Decimal `json:"totalEstimatedValue"`
	TotalOpportunities  int             `json:"totalOpportunities"`
	StartedAt           *time.Time      `json:"startedAt,omitempty"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
	ConsolidatedReport  json.RawMessage `json:"consolidatedReport,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// Progress returns the percentage of documents in a terminal state, rounded
// to the nearest integer.
func (b Batch) Progress() int {
	if b.TotalDocuments == 0 {
		return 0
	}
	done := b.ProcessedDocs + b.FailedDocs
	return int(float64(done)/float64(b.TotalDocuments)*100 + 0.5)
}

// Terminal reports whether every document has reached a terminal state.
func (b Batch) Terminal() bool {
	return b.TotalDocuments > 0 && b.ProcessedDocs+b.FailedDocs >= b.TotalDocuments
}
