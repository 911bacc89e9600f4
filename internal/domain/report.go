package domain

import (
	"time"
)

// TroubleshootReport is the ranked result of a troubleshooting request.
// Built fresh per request; the engine does not persist it.
type TroubleshootReport struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	MerchantID string `json:"merchantId"`

	// RiskScore is an aggregate 0-100 severity measure.
	RiskScore int `json:"riskScore"`

	// Issues are ordered severity-descending, ties broken by kind priority.
	Issues []Issue `json:"issues"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// ResolutionMethod records which path produced a location resolution.
type ResolutionMethod string

const (
	MethodAI        ResolutionMethod = "ai"
	MethodRuleBased ResolutionMethod = "rule-based"
)

// LocationResolution is a proposed location for a merchant with missing
// city/country data. Persistence is the caller's responsibility.
type LocationResolution struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	MerchantID string `json:"merchantId"`

	ProposedCountry string `json:"proposedCountry"`
	ProposedCity    string `json:"proposedCity"`

	// Confidence is the resolver's self-reported reliability estimate.
	// Rule-based resolutions draw it from a fixed table and never exceed
	// the confidence floor reserved for AI-backed resolutions.
	Confidence float64          `json:"confidence"`
	Method     ResolutionMethod `json:"method"`
	Rationale  string           `json:"rationale"`

	ResolvedAt time.Time `json:"resolvedAt"`
}

// InsightSource records which generation path actually executed.
type InsightSource string

const (
	SourceAI     InsightSource = "ai"
	SourceCached InsightSource = "cached"
	SourceDemo   InsightSource = "demo-fallback"
)

// Insight is a natural-language summary with actionable recommendations.
type Insight struct {
	MerchantID      string        `json:"merchantId"`
	Summary         string        `json:"summary"`
	Recommendations []string      `json:"recommendations"`
	Source          InsightSource `json:"source"`
	GeneratedAt     time.Time     `json:"generatedAt"`
}

// Trend classifies period-over-period movement.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// MonthlyStat is one calendar-month aggregate in a trend sequence.
type MonthlyStat struct {
	Period           string  `json:"period"` // YYYY-MM
	ConversionRate   float64 `json:"conversionRate"`
	ErrorRate        float64 `json:"errorRate"`
	TransactionCount int64   `json:"transactionCount"`
	Trend            Trend   `json:"trend"`
}

// AIStatus describes the engine's AI capability.
type AIStatus struct {
	Enabled  bool   `json:"enabled"`
	DemoMode bool   `json:"demoMode"`
	Provider string `json:"provider,omitempty"`
}

// DashboardSummary aggregates issue counts across a tenant's merchants.
type DashboardSummary struct {
	TotalMerchants     int               `json:"totalMerchants"`
	TotalIssues        int               `json:"totalIssues"`
	HighSeverityIssues int               `json:"highSeverityIssues"`
	IssuesByKind       map[IssueKind]int `json:"issuesByKind"`
	RiskLevels         map[Severity]int  `json:"riskLevels"`
	GeneratedAt        time.Time         `json:"generatedAt"`
}
