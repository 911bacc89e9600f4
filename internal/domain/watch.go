package domain

// WatchRule is an operator-defined advisory check evaluated against a
// merchant's latest snapshot. Watch rules supplement the fixed detector
// set; they never exceed medium severity.
type WatchRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is a CEL expression over snapshot variables
	// (conversion_rate, error_rate, transaction_count, status,
	// has_location, merchant_name). It must return bool, int, or double.
	Expression string `json:"expression"`

	// Bands map the expression score to a severity and message.
	Bands []WatchBand `json:"bands"`

	// Whether the rule is active
	Enabled bool `json:"enabled"`
}

// WatchBand maps a score range to an advisory outcome. An empty Severity
// means the band produces no issue.
type WatchBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
	Message    string   `json:"message"`
}
