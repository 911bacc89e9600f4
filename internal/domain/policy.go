package domain

import (
	"time"
)

// Policy holds the detection and resolution thresholds. The numeric values
// are explainable business rules, not learned parameters; they are passed
// into the engine as an immutable value rather than read from process-wide
// flags, so concurrent requests always see a consistent policy.
type Policy struct {
	// ConversionDropHigh is the relative drop vs the prior-period average
	// above which a conversion issue is high severity.
	ConversionDropHigh float64

	// ConversionDropMedium is the relative drop above which a conversion
	// issue is medium severity.
	ConversionDropMedium float64

	// ConversionAbsoluteFloor is the single-snapshot fallback: with no
	// prior history, a conversion rate below this is a medium issue.
	ConversionAbsoluteFloor float64

	// ErrorRateMedium and ErrorRateHigh bound the error-spike bands.
	ErrorRateMedium float64
	ErrorRateHigh   float64

	// TrendDeadBand is the relative conversion-rate change within which a
	// period is classified as stable.
	TrendDeadBand float64

	// DecliningMediumPeriods and DecliningHighPeriods are the consecutive
	// declining-month counts that trigger a trend-regression issue.
	DecliningMediumPeriods int
	DecliningHighPeriods   int

	// AIConfidenceFloor is the minimum confidence at which an AI-proposed
	// location is accepted; below it the resolver falls back to rules.
	AIConfidenceFloor float64

	// HistoryWindow bounds how far back fetch_history reaches.
	HistoryWindow time.Duration

	// AlertRiskScore is the report score at or above which the async
	// worker publishes a merchant alert.
	AlertRiskScore int
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ConversionDropHigh:      0.40,
		ConversionDropMedium:    0.20,
		ConversionAbsoluteFloor: 0.30,
		ErrorRateMedium:         0.10,
		ErrorRateHigh:           0.25,
		TrendDeadBand:           0.05,
		DecliningMediumPeriods:  2,
		DecliningHighPeriods:    3,
		AIConfidenceFloor:       0.5,
		HistoryWindow:           180 * 24 * time.Hour,
		AlertRiskScore:          60,
	}
}
