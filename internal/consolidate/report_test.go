package consolidate

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taxrecovery-backend/internal/analyses"
	"taxrecovery-backend/internal/documents"
)

func strptr(s string) *string { return &s }

func doc(id, docType, periodStr, status string) documents.Document {
	d := documents.Document{
		ID:           id,
		UserID:       "user-1",
		FileName:     id + ".pdf",
		DocumentType: docType,
		Status:       status,
	}
	if periodStr != "" {
		d.ExtractedPeriod = strptr(periodStr)
	}
	return d
}

func analysis(docID string, opps []analyses.Opportunity, recs, alerts []string) analyses.Analysis {
	return analyses.Analysis{
		ID:                  "an-" + docID,
		DocumentID:          docID,
		UserID:              "user-1",
		Opportunities:       opps,
		TotalEstimatedValue: analyses.SumOpportunities(opps),
		Recommendations:     recs,
		Alerts:              alerts,
		ProcessingTimeMs:    100,
	}
}

func opp(tipo string, value int64, prob float64) analyses.Opportunity {
	return analyses.Opportunity{
		Tipo:                     tipo,
		Tributo:                  "PIS/COFINS",
		ValorEstimado:            decimal.NewFromInt(value),
		ProbabilidadeRecuperacao: prob,
	}
}

func TestBuildAggregates(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	docs := []documents.Document{
		doc("d1", documents.TypeDRE, "2024-01", documents.StatusCompleted),
		doc("d2", documents.TypeDRE, "2024-02", documents.StatusCompleted),
		doc("d3", documents.TypeBalanco, "2024-01", documents.StatusCompleted),
		doc("d4", documents.TypeBalancete, "", documents.StatusFailed),
	}
	results := []analyses.Analysis{
		analysis("d1", []analyses.Opportunity{opp("credito_pis", 1000, 0.8)}, []string{"revisar apuração"}, nil),
		analysis("d2", []analyses.Opportunity{opp("credito_pis", 500, 0.6), opp("credito_icms", 2000, 0.9)}, []string{"revisar apuração"}, []string{"prazo prescricional próximo"}),
		analysis("d3", []analyses.Opportunity{opp("credito_icms", 300, 0.7)}, nil, []string{"prazo prescricional próximo"}),
	}

	report := Build("batch-1", docs, results, now)

	if report.BatchJobID != "batch-1" || !report.GeneratedAt.Equal(now) {
		t.Fatalf("header = %s %v", report.BatchJobID, report.GeneratedAt)
	}

	s := report.Summary
	if s.TotalDocuments != 4 || s.SuccessfulDocuments != 3 || s.FailedDocuments != 1 {
		t.Fatalf("summary counts = %+v", s)
	}
	if !s.TotalEstimatedValue.Equal(decimal.NewFromInt(3800)) {
		t.Fatalf("total value = %s, want 3800", s.TotalEstimatedValue)
	}
	if s.TotalOpportunities != 4 {
		t.Fatalf("total opportunities = %d, want 4", s.TotalOpportunities)
	}
	if s.ProcessingTimeMs != 300 {
		t.Fatalf("processing time = %d, want 300", s.ProcessingTimeMs)
	}

	// Period groups are chronological.
	if len(report.ByPeriod) != 2 {
		t.Fatalf("byPeriod = %+v", report.ByPeriod)
	}
	jan, feb := report.ByPeriod[0], report.ByPeriod[1]
	if jan.Period != "2024-01" || jan.Documents != 2 || !jan.TotalValue.Equal(decimal.NewFromInt(1300)) || jan.Opportunities != 2 {
		t.Fatalf("january group = %+v", jan)
	}
	if feb.Period != "2024-02" || feb.Documents != 1 || !feb.TotalValue.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("february group = %+v", feb)
	}

	// Type groups keep first-seen order.
	if len(report.ByType) != 2 || report.ByType[0].DocumentType != documents.TypeDRE || report.ByType[1].DocumentType != documents.TypeBalanco {
		t.Fatalf("byType = %+v", report.ByType)
	}
	if report.ByType[0].Documents != 2 || !report.ByType[0].TotalValue.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("dre group = %+v", report.ByType[0])
	}

	// Group sums match the summary total.
	periodSum := decimal.Zero
	for _, g := range report.ByPeriod {
		periodSum = periodSum.Add(g.TotalValue)
	}
	typeSum := decimal.Zero
	for _, g := range report.ByType {
		typeSum = typeSum.Add(g.TotalValue)
	}
	if !periodSum.Equal(s.TotalEstimatedValue) || !typeSum.Equal(s.TotalEstimatedValue) {
		t.Fatalf("group sums %s / %s != summary %s", periodSum, typeSum, s.TotalEstimatedValue)
	}

	// Opportunities ranked by total value descending.
	if len(report.TopOpportunities) != 2 {
		t.Fatalf("topOpportunities = %+v", report.TopOpportunities)
	}
	icms := report.TopOpportunities[0]
	if icms.Tipo != "credito_icms" || icms.Count != 2 || !icms.TotalValue.Equal(decimal.NewFromInt(2300)) {
		t.Fatalf("icms group = %+v", icms)
	}
	if diff := icms.AvgProbability - 0.8; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("icms avg probability = %v, want 0.8", icms.AvgProbability)
	}
	if len(icms.Sources) != 2 || icms.Sources[0].DocumentID != "d2" || icms.Sources[1].DocumentID != "d3" {
		t.Fatalf("icms sources = %+v", icms.Sources)
	}

	// Recommendations and alerts deduplicated, first occurrence kept.
	if len(report.Recommendations) != 1 || report.Recommendations[0] != "revisar apuração" {
		t.Fatalf("recommendations = %+v", report.Recommendations)
	}
	if len(report.Alerts) != 1 || report.Alerts[0] != "prazo prescricional próximo" {
		t.Fatalf("alerts = %+v", report.Alerts)
	}

	// Timeline mirrors the period grouping.
	if len(report.Timeline) != 2 || report.Timeline[0].Period != "2024-01" || !report.Timeline[1].Value.Equal(feb.TotalValue) {
		t.Fatalf("timeline = %+v", report.Timeline)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	docs := []documents.Document{
		doc("d1", documents.TypeDRE, "2024-Q1", documents.StatusCompleted),
		doc("d2", documents.TypeBalanco, "2024", documents.StatusCompleted),
	}
	results := []analyses.Analysis{
		analysis("d1", []analyses.Opportunity{opp("credito_pis", 100, 0.5)}, []string{"a"}, nil),
		analysis("d2", []analyses.Opportunity{opp("credito_ipi", 100, 0.5)}, []string{"b"}, nil),
	}

	first, err := json.Marshal(Build("b", docs, results, now))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(Build("b", docs, results, now))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("reports differ:\n%s\n%s", first, second)
	}

	// Equal starts sort broader-first: the whole year before its own quarter.
	report := Build("b", docs, results, now)
	if report.ByPeriod[0].Period != "2024" || report.ByPeriod[1].Period != "2024-Q1" {
		t.Fatalf("byPeriod order = %+v", report.ByPeriod)
	}
}

func TestBuildTopOpportunitiesBounds(t *testing.T) {
	now := time.Now().UTC()

	var opps []analyses.Opportunity
	for i := 0; i < 14; i++ {
		opps = append(opps, opp(fmt.Sprintf("tipo_%02d", i), int64(100+i), 0.5))
	}
	// Same value as tipo_05 under a lexically earlier name.
	opps = append(opps, opp("aaa_tie", 105, 0.5))

	docs := []documents.Document{doc("d1", documents.TypeDRE, "2024", documents.StatusCompleted)}
	results := []analyses.Analysis{analysis("d1", opps, nil, nil)}

	report := Build("b", docs, results, now)

	if len(report.TopOpportunities) != 10 {
		t.Fatalf("top size = %d, want 10", len(report.TopOpportunities))
	}
	for i := 1; i < len(report.TopOpportunities); i++ {
		prev, cur := report.TopOpportunities[i-1], report.TopOpportunities[i]
		cmp := prev.TotalValue.Cmp(cur.TotalValue)
		if cmp < 0 {
			t.Fatalf("ranking not descending at %d: %s < %s", i, prev.TotalValue, cur.TotalValue)
		}
		if cmp == 0 && prev.Tipo > cur.Tipo {
			t.Fatalf("tie at %d not broken by name: %s > %s", i, prev.Tipo, cur.Tipo)
		}
	}
}

func TestBuildDocumentWithoutAnalysisCountsFailed(t *testing.T) {
	now := time.Now().UTC()
	docs := []documents.Document{
		doc("d1", documents.TypeDRE, "2024", documents.StatusCompleted),
		doc("d2", documents.TypeDRE, "2024", documents.StatusCompleted),
	}
	results := []analyses.Analysis{
		analysis("d1", []analyses.Opportunity{opp("credito_pis", 100, 0.5)}, nil, nil),
	}

	report := Build("b", docs, results, now)
	if report.Summary.SuccessfulDocuments != 1 || report.Summary.FailedDocuments != 1 {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if report.ByType[0].Documents != 1 {
		t.Fatalf("byType = %+v", report.ByType)
	}
}

func TestBuildEmptyBatch(t *testing.T) {
	report := Build("b", nil, nil, time.Now().UTC())
	if report.Summary.TotalDocuments != 0 || !report.Summary.TotalEstimatedValue.Equal(decimal.Zero) {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if report.Recommendations == nil || report.Alerts == nil {
		t.Fatal("recommendations/alerts should be empty slices, not nil")
	}
	if len(report.Timeline) != 0 {
		t.Fatalf("timeline = %+v", report.Timeline)
	}
}
