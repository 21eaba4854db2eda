// Package consolidate aggregates a terminal batch's per-document analyses
// into one consolidated report. The aggregation is pure and idempotent:
// the same documents and analyses always produce the same report, aside
// from the generation timestamp.
package consolidate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"taxrecovery-backend/internal/analyses"
	"taxrecovery-backend/internal/documents"
	"taxrecovery-backend/internal/period"
)

// Report is the batch-level aggregation of all document analyses.
type Report struct {
	BatchJobID       string             `json:"batchJobId"`
	GeneratedAt      time.Time          `json:"generatedAt"`
	Summary          Summary            `json:"summary"`
	ByPeriod         []PeriodGroup      `json:"byPeriod"`
	ByType           []TypeGroup        `json:"byType"`
	TopOpportunities []OpportunityGroup `json:"topOpportunities"`
	Recommendations  []string           `json:"recommendations"`
	Alerts           []string           `json:"alerts"`
	Timeline         []TimelinePoint    `json:"timeline"`
}

// Summary carries the batch totals.
type Summary struct {
	TotalEstimatedValue decimal.Decimal `json:"totalEstimatedValue"`
	TotalOpportunities  int             `json:"totalOpportunities"`
	ProcessingTimeMs    int64           `json:"processingTimeMs"`
	SuccessfulDocuments int             `json:"successfulDocuments"`
	FailedDocuments     int             `json:"failedDocuments"`
	TotalDocuments      int             `json:"totalDocuments"`
}

// PeriodGroup aggregates successful documents sharing an extracted period.
type PeriodGroup struct {
	Period        string          `json:"period"`
	Documents     int             `json:"documents"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	Opportunities int             `json:"opportunities"`
}

// TypeGroup aggregates successful documents by document type.
type TypeGroup struct {
	DocumentType string          `json:"documentType"`
	Documents    int             `json:"documents"`
	TotalValue   decimal.Decimal `json:"totalValue"`
}

// OpportunitySource traces an aggregated opportunity back to the document
// it came from.
type OpportunitySource struct {
	DocumentID string `json:"documentId"`
	FileName   string `json:"fileName"`
	Period     string `json:"period,omitempty"`
}

// OpportunityGroup aggregates opportunities by credit category (tipo).
type OpportunityGroup struct {
	Tipo           string              `json:"tipo"`
	Count          int                 `json:"count"`
	TotalValue     decimal.Decimal     `json:"totalValue"`
	AvgProbability float64             `json:"avgProbability"`
	Sources        []OpportunitySource `json:"sources"`
}

// TimelinePoint is one value-over-time entry, chronologically ordered.
type TimelinePoint struct {
	Period string          `json:"period"`
	Value  decimal.Decimal `json:"value"`
}

// topOpportunityLimit bounds the ranked opportunity groups kept on the report.
const topOpportunityLimit = 10

// Build computes the consolidated report for one batch. Documents must be in
// the repo's deterministic order (created_at, id); byAnalysis maps document
// ids to their analyses. Documents without a completed status or without an
// analysis are counted as failed and excluded from every grouping.
func Build(batchID string, docs []documents.Document, results []analyses.Analysis, now time.Time) Report {
	byDoc := make(map[string]analyses.Analysis, len(results))
	for _, a := range results {
		byDoc[a.DocumentID] = a
	}

	report := Report{
		BatchJobID:  batchID,
		GeneratedAt: now,
		Summary: Summary{
			TotalEstimatedValue: decimal.Zero,
			TotalDocuments:      len(docs),
		},
	}

	periodIdx := make(map[string]int)
	typeIdx := make(map[string]int)
	oppIdx := make(map[string]int)
	oppProbSums := make(map[string]float64)
	seenRecs := make(map[string]struct{})
	seenAlerts := make(map[string]struct{})
	report.Recommendations = []string{}
	report.Alerts = []string{}

	for _, doc := range docs {
		analysis, ok := byDoc[doc.ID]
		if doc.Status != documents.StatusCompleted || !ok {
			report.Summary.FailedDocuments++
			continue
		}
		report.Summary.SuccessfulDocuments++
		report.Summary.TotalEstimatedValue = report.Summary.TotalEstimatedValue.Add(analysis.TotalEstimatedValue)
		report.Summary.TotalOpportunities += len(analysis.Opportunities)
		report.Summary.ProcessingTimeMs += analysis.ProcessingTimeMs

		docPeriod := ""
		if doc.ExtractedPeriod != nil {
			docPeriod = *doc.ExtractedPeriod
		}

		// Documents without an extracted period are excluded from the
		// period grouping, not bucketed under a sentinel.
		if docPeriod != "" {
			idx, ok := periodIdx[docPeriod]
			if !ok {
				idx = len(report.ByPeriod)
				periodIdx[docPeriod] = idx
				report.ByPeriod = append(report.ByPeriod, PeriodGroup{Period: docPeriod, TotalValue: decimal.Zero})
			}
			report.ByPeriod[idx].Documents++
			report.ByPeriod[idx].TotalValue = report.ByPeriod[idx].TotalValue.Add(analysis.TotalEstimatedValue)
			report.ByPeriod[idx].Opportunities += len(analysis.Opportunities)
		}

		idx, ok := typeIdx[doc.DocumentType]
		if !ok {
			idx = len(report.ByType)
			typeIdx[doc.DocumentType] = idx
			report.ByType = append(report.ByType, TypeGroup{DocumentType: doc.DocumentType, TotalValue: decimal.Zero})
		}
		report.ByType[idx].Documents++
		report.ByType[idx].TotalValue = report.ByType[idx].TotalValue.Add(analysis.TotalEstimatedValue)

		source := OpportunitySource{DocumentID: doc.ID, FileName: doc.FileName, Period: docPeriod}
		for _, opp := range analysis.Opportunities {
			gi, ok := oppIdx[opp.Tipo]
			if !ok {
				gi = len(report.TopOpportunities)
				oppIdx[opp.Tipo] = gi
				report.TopOpportunities = append(report.TopOpportunities, OpportunityGroup{Tipo: opp.Tipo, TotalValue: decimal.Zero})
			}
			group := &report.TopOpportunities[gi]
			group.Count++
			group.TotalValue = group.TotalValue.Add(opp.ValorEstimado)
			group.Sources = append(group.Sources, source)
			oppProbSums[opp.Tipo] += opp.ProbabilidadeRecuperacao
		}

		for _, rec := range analysis.Recommendations {
			if _, dup := seenRecs[rec]; dup {
				continue
			}
			seenRecs[rec] = struct{}{}
			report.Recommendations = append(report.Recommendations, rec)
		}
		for _, alert := range analysis.Alerts {
			if _, dup := seenAlerts[alert]; dup {
				continue
			}
			seenAlerts[alert] = struct{}{}
			report.Alerts = append(report.Alerts, alert)
		}
	}

	for i := range report.TopOpportunities {
		group := &report.TopOpportunities[i]
		group.AvgProbability = oppProbSums[group.Tipo] / float64(group.Count)
	}
	sort.SliceStable(report.TopOpportunities, func(i, j int) bool {
		cmp := report.TopOpportunities[i].TotalValue.Cmp(report.TopOpportunities[j].TotalValue)
		if cmp != 0 {
			return cmp > 0
		}
		return report.TopOpportunities[i].Tipo < report.TopOpportunities[j].Tipo
	})
	if len(report.TopOpportunities) > topOpportunityLimit {
		report.TopOpportunities = report.TopOpportunities[:topOpportunityLimit]
	}

	sort.SliceStable(report.ByPeriod, func(i, j int) bool {
		return period.Compare(report.ByPeriod[i].Period, report.ByPeriod[j].Period) < 0
	})

	report.Timeline = make([]TimelinePoint, 0, len(report.ByPeriod))
	for _, group := range report.ByPeriod {
		report.Timeline = append(report.Timeline, TimelinePoint{Period: group.Period, Value: group.TotalValue})
	}

	return report
}
