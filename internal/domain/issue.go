package domain

// IssueKind identifies the signal class that produced an issue.
// The core detector set is closed; KindWatchRule covers operator-defined
// advisory checks evaluated by the watch-rule engine.
type IssueKind string

const (
	KindConversionDrop  IssueKind = "conversion_drop"
	KindErrorSpike      IssueKind = "error_spike"
	KindMissingLocation IssueKind = "missing_location"
	KindTrendRegression IssueKind = "trend_regression"
	KindWatchRule       IssueKind = "watch_rule"
)

// Severity classifies how urgent an issue is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is a detected problem instance. Created by a single detector,
// never mutated, consumed by the risk aggregator.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	Severity   Severity  `json:"severity"`
	MerchantID string    `json:"merchantId"`

	// Evidence holds the numeric deltas that triggered the issue.
	Evidence map[string]float64 `json:"evidence,omitempty"`

	Recommendation string `json:"recommendation"`
}

// SeverityRank orders severities for sorting, higher is more severe.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// KindPriority breaks severity ties with a fixed kind order so that
// reports are deterministic for identical inputs. Lower is earlier.
func KindPriority(k IssueKind) int {
	switch k {
	case KindMissingLocation:
		return 0
	case KindErrorSpike:
		return 1
	case KindConversionDrop:
		return 2
	case KindTrendRegression:
		return 3
	case KindWatchRule:
		return 4
	default:
		return 5
	}
}
