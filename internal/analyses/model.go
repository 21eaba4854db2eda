package analyses

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is one recoverable tax-credit candidate identified by the
// analysis engine. Opportunities only exist nested inside an Analysis.
type Opportunity struct {
	Tipo                     string          `json:"tipo"`
	Tributo                  string          `json:"tributo"`
	Descricao                string          `json:"descricao"`
	ValorEstimado            decimal.Decimal `json:"valorEstimado"`
	FundamentacaoLegal       string          `json:"fundamentacaoLegal"`
	PrazoRecuperacao         string          `json:"prazoRecuperacao"`
	Complexidade             string          `json:"complexidade"`
	ProbabilidadeRecuperacao float64         `json:"probabilidadeRecuperacao"`
	Risco                    string          `json:"risco"`
	DocumentacaoNecessaria   []string        `json:"documentacaoNecessaria,omitempty"`
	PassosPraticos           []string        `json:"passosPraticos,omitempty"`
}

// Complexity levels reported by the analysis engine.
const (
	ComplexidadeBaixa = "baixa"
	ComplexidadeMedia = "media"
	ComplexidadeAlta  = "alta"
)

// Analysis is the structured result produced for one successfully processed
// document. Created once, immutable thereafter.
type Analysis struct {
	ID                  string          `json:"id"`
	DocumentID          string          `json:"documentId"`
	UserID              string          `json:"userId"`
	Opportunities       []Opportunity   `json:"opportunities"`
	TotalEstimatedValue decimal.Decimal `json:"totalEstimatedValue"`
	Recommendations     []string        `json:"recommendations,omitempty"`
	Alerts              []string        `json:"alerts,omitempty"`
	ProcessingTimeMs    int64           `json:"processingTimeMs"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// SumOpportunities returns the total estimated value across opportunities.
func SumOpportunities(opps []Opportunity) decimal.Decimal {
	total := decimal.Zero
	for _, o := range opps {
		total = total.Add(o.ValorEstimado)
	}
	return total
}
