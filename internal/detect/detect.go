// Package detect provides the rule-based issue detectors. Each detector is
// a pure function over a merchant's snapshot history: it evaluates one
// signal class and returns at most one issue. Detectors never fail; missing
// optional fields are a detectable condition and insufficient history
// simply produces no issue.
package detect

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/trend"
)

// Detector evaluates all signal classes against a snapshot history.
// It is stateless apart from the policy value and safe for concurrent use.
type Detector struct {
	policy domain.Policy
}

// New creates a detector with the given policy.
func New(policy domain.Policy) *Detector {
	return &Detector{policy: policy}
}

// DetectAll runs every detector over the history. History must be ordered
// by timestamp ascending; the latest snapshot is the last element. An empty
// history produces no issues.
func (d *Detector) DetectAll(history []*domain.MerchantSnapshot) []domain.Issue {
	var issues []domain.Issue
	for _, fn := range []func([]*domain.MerchantSnapshot) *domain.Issue{
		d.ConversionDrop,
		d.ErrorSpike,
		d.MissingLocation,
		d.TrendRegression,
	} {
		if issue := fn(history); issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues
}

// ConversionDrop compares the latest snapshot's conversion rate against the
// average of all prior snapshots. With a single snapshot it falls back to
// an absolute-threshold check.
func (d *Detector) ConversionDrop(history []*domain.MerchantSnapshot) *domain.Issue {
	if len(history) == 0 {
		return nil
	}
	latest := history[len(history)-1]

	if len(history) == 1 {
		if latest.ConversionRate < d.policy.ConversionAbsoluteFloor {
			return &domain.Issue{
				Kind:       domain.KindConversionDrop,
				Severity:   domain.SeverityMedium,
				MerchantID: latest.MerchantID,
				Evidence: map[string]float64{
					"conversion_rate": latest.ConversionRate,
					"absolute_floor":  d.policy.ConversionAbsoluteFloor,
				},
				Recommendation: "Conversion rate is below the healthy floor. Review payment flow and checkout experience.",
			}
		}
		return nil
	}

	var sum float64
	for _, s := range history[:len(history)-1] {
		sum += s.ConversionRate
	}
	priorAvg := sum / float64(len(history)-1)
	if priorAvg <= 0 {
		return nil
	}

	drop := (priorAvg - latest.ConversionRate) / priorAvg
	var severity domain.Severity
	switch {
	case drop > d.policy.ConversionDropHigh:
		severity = domain.SeverityHigh
	case drop > d.policy.ConversionDropMedium:
		severity = domain.SeverityMedium
	default:
		return nil
	}

	return &domain.Issue{
		Kind:       domain.KindConversionDrop,
		Severity:   severity,
		MerchantID: latest.MerchantID,
		Evidence: map[string]float64{
			"conversion_rate": latest.ConversionRate,
			"prior_average":   priorAvg,
			"relative_drop":   drop,
		},
		Recommendation: fmt.Sprintf(
			"Conversion rate dropped %.0f%% versus the prior average. Analyze failed transaction patterns and recent checkout changes.",
			drop*100,
		),
	}
}

// ErrorSpike fires when the latest error rate exceeds the fluctuation bar.
func (d *Detector) ErrorSpike(history []*domain.MerchantSnapshot) *domain.Issue {
	if len(history) == 0 {
		return nil
	}
	latest := history[len(history)-1]

	if latest.ErrorRate <= d.policy.ErrorRateMedium {
		return nil
	}

	severity := domain.SeverityMedium
	if latest.ErrorRate > d.policy.ErrorRateHigh {
		severity = domain.SeverityHigh
	}

	return &domain.Issue{
		Kind:       domain.KindErrorSpike,
		Severity:   severity,
		MerchantID: latest.MerchantID,
		Evidence: map[string]float64{
			"error_rate": latest.ErrorRate,
			"threshold":  d.policy.ErrorRateMedium,
		},
		Recommendation: "Investigate payment gateway integration logs and recent transaction failures.",
	}
}

// MissingLocation fires when country or city is absent on the latest
// snapshot. Country absence dominates: it is high severity even when the
// city is also missing.
func (d *Detector) MissingLocation(history []*domain.MerchantSnapshot) *domain.Issue {
	if len(history) == 0 {
		return nil
	}
	latest := history[len(history)-1]

	var severity domain.Severity
	var missing float64
	var rec string
	switch {
	case latest.Country == "":
		severity = domain.SeverityHigh
		missing = 1
		if latest.City == "" {
			missing = 2
		}
		rec = "Country information is required for compliance and fraud prevention. Verify merchant registration address."
	case latest.City == "":
		severity = domain.SeverityMedium
		missing = 1
		rec = "City information helps with local fraud detection. Contact the merchant for the missing data."
	default:
		return nil
	}

	return &domain.Issue{
		Kind:       domain.KindMissingLocation,
		Severity:   severity,
		MerchantID: latest.MerchantID,
		Evidence: map[string]float64{
			"missing_fields": missing,
		},
		Recommendation: rec,
	}
}

// TrendRegression fires when the monthly conversion trend has been
// declining for consecutive periods.
func (d *Detector) TrendRegression(history []*domain.MerchantSnapshot) *domain.Issue {
	stats := trend.Compare(history, d.policy.TrendDeadBand)
	if len(stats) == 0 {
		return nil
	}

	// Count trailing consecutive declining periods.
	declining := 0
	for i := len(stats) - 1; i >= 0; i-- {
		if stats[i].Trend != domain.TrendDeclining {
			break
		}
		declining++
	}

	var severity domain.Severity
	switch {
	case declining >= d.policy.DecliningHighPeriods:
		severity = domain.SeverityHigh
	case declining >= d.policy.DecliningMediumPeriods:
		severity = domain.SeverityMedium
	default:
		return nil
	}

	return &domain.Issue{
		Kind:       domain.KindTrendRegression,
		Severity:   severity,
		MerchantID: history[len(history)-1].MerchantID,
		Evidence: map[string]float64{
			"declining_periods": float64(declining),
			"latest_conversion": stats[len(stats)-1].ConversionRate,
		},
		Recommendation: fmt.Sprintf(
			"Conversion has declined for %d consecutive months. Schedule a merchant review and prepare optimization recommendations.",
			declining,
		),
	}
}
