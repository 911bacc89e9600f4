//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel merchant
// troubleshooting engine.
//
// These tests verify the COMPLETE troubleshooting pipeline:
//
//	Snapshot → Detectors → Watch Rules → Risk Score → Report
//	                                   → Location Resolution
//	                                   → Insight (AI or demo fallback)
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. SNAPSHOT: A timestamped metric reading for a merchant (conversion
//    rate, error rate, transaction count, optional location).
//
// 2. DETECTOR: A fixed health check. Each detector emits at most one
//    issue per report:
//   - conversion_drop:  conversion fell vs the merchant's own history
//   - error_spike:      latest error rate above 10% (medium) / 25% (high)
//   - missing_location: country and/or city absent
//   - trend_regression: consecutive declining months
//
// 3. WATCH RULE: An operator-defined CEL expression over the latest
//    snapshot. Advisory only - capped at medium severity.
//
// 4. RISK SCORE: high=40, medium=20, low=5, summed and capped at 100.
//
// 5. INSIGHT: Natural-language summary. With AI disabled the demo
//    fallback produces deterministic output keyed by the dominant issue.
//
// The server must be running with its default policy. AI may be disabled
// (demo mode); these tests only rely on the deterministic paths.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration.
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: fmt.Sprintf("test-tenant-%d", time.Now().UnixNano()),
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// SnapshotRequest is the payload sent to POST /api/v1/snapshots.
type SnapshotRequest struct {
	MerchantID       string    `json:"merchantId"`
	MerchantName     string    `json:"merchantName"`
	Country          string    `json:"country,omitempty"`
	City             string    `json:"city,omitempty"`
	ConversionRate   float64   `json:"conversionRate"`
	ErrorRate        float64   `json:"errorRate"`
	TransactionCount int64     `json:"transactionCount"`
	Timestamp        time.Time `json:"timestamp,omitempty"`
}

// Issue is one detected problem in a report.
type Issue struct {
	Kind           string `json:"kind"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// Report is what GET /api/v1/merchants/{id}/report returns.
type Report struct {
	ID         string  `json:"id"`
	MerchantID string  `json:"merchantId"`
	RiskScore  int     `json:"riskScore"`
	Issues     []Issue `json:"issues"`
}

// Resolution is what POST /api/v1/merchants/{id}/location/resolve returns.
type Resolution struct {
	ProposedCountry string  `json:"proposedCountry"`
	ProposedCity    string  `json:"proposedCity"`
	Confidence      float64 `json:"confidence"`
	Method          string  `json:"method"`
}

// Insight is what GET /api/v1/merchants/{id}/insight returns.
type Insight struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
	Source          string   `json:"source"`
}

// MonthlyResponse is what GET /api/v1/merchants/{id}/monthly returns.
type MonthlyResponse struct {
	MerchantID string `json:"merchantId"`
	Months     []struct {
		Period         string  `json:"period"`
		ConversionRate float64 `json:"conversionRate"`
		Trend          string  `json:"trend"`
	} `json:"months"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doJSON(t *testing.T, config TestConfig, method, path string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, config.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func ingest(t *testing.T, config TestConfig, snap SnapshotRequest) {
	t.Helper()
	if code := doJSON(t, config, http.MethodPost, "/api/v1/snapshots", snap, nil); code != http.StatusCreated {
		t.Fatalf("ingest returned %d", code)
	}
}

// ============================================================================
// Tests
// ============================================================================

func TestHealthy(t *testing.T) {
	config := getTestConfig()

	resp, err := http.Get(config.BaseURL + "/health")
	if err != nil {
		t.Fatalf("server not reachable at %s: %v", config.BaseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}
}

func TestConversionDropPipeline(t *testing.T) {
	config := getTestConfig()
	now := time.Now().UTC()

	// Two healthy days, then a collapse.
	for _, s := range []struct {
		conv float64
		ts   time.Time
	}{
		{0.45, now.Add(-48 * time.Hour)},
		{0.45, now.Add(-24 * time.Hour)},
		{0.15, now},
	} {
		ingest(t, config, SnapshotRequest{
			MerchantID:       "m-drop",
			MerchantName:     "Acme Retail",
			Country:          "US",
			City:             "New York",
			ConversionRate:   s.conv,
			ErrorRate:        0.02,
			TransactionCount: 200,
			Timestamp:        s.ts,
		})
	}

	var report Report
	if code := doJSON(t, config, http.MethodGet, "/api/v1/merchants/m-drop/report", nil, &report); code != http.StatusOK {
		t.Fatalf("report returned %d", code)
	}

	if len(report.Issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %+v", report.Issues)
	}
	if report.Issues[0].Kind != "conversion_drop" || report.Issues[0].Severity != "high" {
		t.Errorf("unexpected issue: %+v", report.Issues[0])
	}
	if report.RiskScore != 40 {
		t.Errorf("expected risk score 40, got %d", report.RiskScore)
	}
}

func TestIssueOrdering(t *testing.T) {
	config := getTestConfig()

	// Missing location, error spike and conversion floor all at once.
	ingest(t, config, SnapshotRequest{
		MerchantID:       "m-multi",
		MerchantName:     "Struggling Shop",
		ConversionRate:   0.10,
		ErrorRate:        0.30,
		TransactionCount: 50,
	})

	var report Report
	if code := doJSON(t, config, http.MethodGet, "/api/v1/merchants/m-multi/report", nil, &report); code != http.StatusOK {
		t.Fatalf("report returned %d", code)
	}

	if len(report.Issues) < 3 {
		t.Fatalf("expected at least 3 issues, got %+v", report.Issues)
	}
	// Highs come first; missing_location outranks error_spike within high.
	if report.Issues[0].Kind != "missing_location" {
		t.Errorf("expected missing_location first, got %s", report.Issues[0].Kind)
	}
	if report.Issues[1].Kind != "error_spike" {
		t.Errorf("expected error_spike second, got %s", report.Issues[1].Kind)
	}
}

func TestLocationResolution(t *testing.T) {
	config := getTestConfig()

	ingest(t, config, SnapshotRequest{
		MerchantID:       "m-loc",
		MerchantName:     "Global Tech Solutions",
		ConversionRate:   0.5,
		ErrorRate:        0.02,
		TransactionCount: 100,
	})

	var res Resolution
	if code := doJSON(t, config, http.MethodPost, "/api/v1/merchants/m-loc/location/resolve", nil, &res); code != http.StatusOK {
		t.Fatalf("resolve returned %d", code)
	}

	if res.ProposedCountry == "" {
		t.Error("resolution must never return an empty country")
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Errorf("confidence out of range: %f", res.Confidence)
	}

	// The proposal must be persisted and retrievable.
	var stored Resolution
	if code := doJSON(t, config, http.MethodGet, "/api/v1/merchants/m-loc/location", nil, &stored); code != http.StatusOK {
		t.Fatalf("location fetch returned %d", code)
	}
	if stored.ProposedCountry != res.ProposedCountry {
		t.Errorf("stored resolution mismatch: %+v vs %+v", stored, res)
	}
}

func TestInsightDeterministicFallback(t *testing.T) {
	config := getTestConfig()

	ingest(t, config, SnapshotRequest{
		MerchantID:       "m-insight",
		MerchantName:     "Flaky Gateway Store",
		Country:          "US",
		City:             "Chicago",
		ConversionRate:   0.5,
		ErrorRate:        0.30,
		TransactionCount: 100,
	})

	var first, second Insight
	if code := doJSON(t, config, http.MethodGet, "/api/v1/merchants/m-insight/insight", nil, &first); code != http.StatusOK {
		t.Fatalf("insight returned %d", code)
	}
	if first.Summary == "" || len(first.Recommendations) == 0 {
		t.Fatalf("incomplete insight: %+v", first)
	}

	if first.Source == "demo-fallback" {
		doJSON(t, config, http.MethodGet, "/api/v1/merchants/m-insight/insight", nil, &second)
		if first.Summary != second.Summary {
			t.Error("demo insight must be deterministic across calls")
		}
	}
}

func TestMonthlyTrendSequence(t *testing.T) {
	config := getTestConfig()
	now := time.Now().UTC()
	base := time.Date(now.Year(), now.Month(), 15, 12, 0, 0, 0, time.UTC)

	for i, conv := range []float64{0.60, 0.50, 0.40} {
		ingest(t, config, SnapshotRequest{
			MerchantID:       "m-trend",
			MerchantName:     "Fading Retail",
			Country:          "US",
			City:             "Boston",
			ConversionRate:   conv,
			ErrorRate:        0.02,
			TransactionCount: 100,
			Timestamp:        base.AddDate(0, i-2, 0),
		})
	}

	var monthly MonthlyResponse
	if code := doJSON(t, config, http.MethodGet, "/api/v1/merchants/m-trend/monthly", nil, &monthly); code != http.StatusOK {
		t.Fatalf("monthly returned %d", code)
	}

	if len(monthly.Months) != 3 {
		t.Fatalf("expected 3 months, got %d", len(monthly.Months))
	}
	for i := 1; i < len(monthly.Months); i++ {
		if monthly.Months[i].Period <= monthly.Months[i-1].Period {
			t.Errorf("months not ascending: %+v", monthly.Months)
		}
		if monthly.Months[i].Trend != "declining" {
			t.Errorf("expected declining month, got %+v", monthly.Months[i])
		}
	}

	// A 10pp decline over consecutive months is also a trend regression.
	var report Report
	doJSON(t, config, http.MethodGet, "/api/v1/merchants/m-trend/report", nil, &report)
	var found bool
	for _, issue := range report.Issues {
		if issue.Kind == "trend_regression" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected trend_regression issue: %+v", report.Issues)
	}
}

func TestUnknownMerchant(t *testing.T) {
	config := getTestConfig()

	if code := doJSON(t, config, http.MethodGet, "/api/v1/merchants/no-such-merchant/report", nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestWatchRuleRoundtrip(t *testing.T) {
	config := getTestConfig()

	ingest(t, config, SnapshotRequest{
		MerchantID:       "m-watched",
		MerchantName:     "Tiny Kiosk",
		Country:          "US",
		City:             "Austin",
		ConversionRate:   0.5,
		ErrorRate:        0.02,
		TransactionCount: 3,
	})

	lower := 1.0
	rule := map[string]any{
		"id":         "low-volume-integration",
		"name":       "low volume watch",
		"expression": "transaction_count < 10",
		"enabled":    true,
		"bands": []map[string]any{
			{"lowerLimit": lower, "severity": "low", "message": "volume collapsed"},
		},
	}
	if code := doJSON(t, config, http.MethodPost, "/api/v1/watch-rules", rule, nil); code != http.StatusCreated {
		t.Fatalf("create rule returned %d", code)
	}
	defer doJSON(t, config, http.MethodDelete, "/api/v1/watch-rules/low-volume-integration", nil, nil)

	var report Report
	if code := doJSON(t, config, http.MethodGet, "/api/v1/merchants/m-watched/report", nil, &report); code != http.StatusOK {
		t.Fatalf("report returned %d", code)
	}
	var found bool
	for _, issue := range report.Issues {
		if issue.Kind == "watch_rule" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected watch_rule issue: %+v", report.Issues)
	}
}
