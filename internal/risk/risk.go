// Package risk aggregates detector findings into a single merchant risk
// score and a deterministically ordered issue list.
package risk

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Severity weights. The score is additive and capped at MaxScore so a
// merchant with many low findings never outranks one with several highs
// by an unbounded margin.
const (
	WeightHigh   = 40
	WeightMedium = 20
	WeightLow    = 5
	MaxScore     = 100
)

// Aggregator combines issues into troubleshooting reports.
type Aggregator struct{}

// NewAggregator creates a report aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Score computes the capped additive risk score for a set of issues.
func (a *Aggregator) Score(issues []domain.Issue) int {
	score := 0
	for _, issue := range issues {
		switch issue.Severity {
		case domain.SeverityHigh:
			score += WeightHigh
		case domain.SeverityMedium:
			score += WeightMedium
		case domain.SeverityLow:
			score += WeightLow
		}
	}
	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// Aggregate builds a report for a merchant. Issues are ordered by
// severity descending, then by a fixed kind priority, so two runs over
// the same findings always produce an identical report body.
func (a *Aggregator) Aggregate(tenantID, merchantID string, issues []domain.Issue) *domain.TroubleshootReport {
	sorted := make([]domain.Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := domain.SeverityRank(sorted[i].Severity), domain.SeverityRank(sorted[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return domain.KindPriority(sorted[i].Kind) < domain.KindPriority(sorted[j].Kind)
	})

	return &domain.TroubleshootReport{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		MerchantID:  merchantID,
		RiskScore:   a.Score(sorted),
		Issues:      sorted,
		GeneratedAt: time.Now().UTC(),
	}
}
