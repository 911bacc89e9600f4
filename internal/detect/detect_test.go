package detect

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func snap(ts time.Time, conversion, errRate float64, country, city string) *domain.MerchantSnapshot {
	return &domain.MerchantSnapshot{
		MerchantID:       "m-1",
		ConversionRate:   conversion,
		ErrorRate:        errRate,
		TransactionCount: 100,
		Country:          country,
		City:             city,
		Timestamp:        ts,
		Status:           domain.StatusActive,
	}
}

func TestConversionDrop(t *testing.T) {
	d := New(domain.DefaultPolicy())
	now := time.Now().UTC()

	tests := []struct {
		name         string
		history      []*domain.MerchantSnapshot
		wantIssue    bool
		wantSeverity domain.Severity
	}{
		{
			name:      "empty history",
			history:   nil,
			wantIssue: false,
		},
		{
			name:         "single snapshot below floor",
			history:      []*domain.MerchantSnapshot{snap(now, 0.25, 0.01, "US", "NYC")},
			wantIssue:    true,
			wantSeverity: domain.SeverityMedium,
		},
		{
			name:      "single snapshot at floor",
			history:   []*domain.MerchantSnapshot{snap(now, 0.30, 0.01, "US", "NYC")},
			wantIssue: false,
		},
		{
			name: "drop above high threshold",
			history: []*domain.MerchantSnapshot{
				snap(now.Add(-48*time.Hour), 0.45, 0.01, "US", "NYC"),
				snap(now.Add(-24*time.Hour), 0.45, 0.01, "US", "NYC"),
				snap(now, 0.15, 0.01, "US", "NYC"), // 66% drop
			},
			wantIssue:    true,
			wantSeverity: domain.SeverityHigh,
		},
		{
			name: "drop above medium threshold",
			history: []*domain.MerchantSnapshot{
				snap(now.Add(-24*time.Hour), 0.40, 0.01, "US", "NYC"),
				snap(now, 0.28, 0.01, "US", "NYC"), // 30% drop
			},
			wantIssue:    true,
			wantSeverity: domain.SeverityMedium,
		},
		{
			name: "drop exactly at medium threshold does not fire",
			history: []*domain.MerchantSnapshot{
				snap(now.Add(-24*time.Hour), 0.50, 0.01, "US", "NYC"),
				snap(now, 0.40, 0.01, "US", "NYC"), // exactly 20%
			},
			wantIssue: false,
		},
		{
			name: "improvement never fires",
			history: []*domain.MerchantSnapshot{
				snap(now.Add(-24*time.Hour), 0.30, 0.01, "US", "NYC"),
				snap(now, 0.50, 0.01, "US", "NYC"),
			},
			wantIssue: false,
		},
		{
			name: "zero prior average skipped",
			history: []*domain.MerchantSnapshot{
				snap(now.Add(-24*time.Hour), 0, 0.01, "US", "NYC"),
				snap(now, 0, 0.01, "US", "NYC"),
			},
			wantIssue: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			issue := d.ConversionDrop(tc.history)
			if tc.wantIssue != (issue != nil) {
				t.Fatalf("expected issue=%v, got %+v", tc.wantIssue, issue)
			}
			if issue != nil && issue.Severity != tc.wantSeverity {
				t.Errorf("expected severity %s, got %s", tc.wantSeverity, issue.Severity)
			}
		})
	}
}

func TestErrorSpike(t *testing.T) {
	d := New(domain.DefaultPolicy())
	now := time.Now().UTC()

	tests := []struct {
		name         string
		errorRate    float64
		wantIssue    bool
		wantSeverity domain.Severity
	}{
		{"normal fluctuation", 0.05, false, ""},
		{"exactly at medium bar", 0.10, false, ""},
		{"just above medium bar", 0.11, true, domain.SeverityMedium},
		{"exactly at high bar stays medium", 0.25, true, domain.SeverityMedium},
		{"above high bar", 0.30, true, domain.SeverityHigh},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			issue := d.ErrorSpike([]*domain.MerchantSnapshot{snap(now, 0.5, tc.errorRate, "US", "NYC")})
			if tc.wantIssue != (issue != nil) {
				t.Fatalf("expected issue=%v, got %+v", tc.wantIssue, issue)
			}
			if issue != nil && issue.Severity != tc.wantSeverity {
				t.Errorf("expected severity %s, got %s", tc.wantSeverity, issue.Severity)
			}
		})
	}
}

func TestMissingLocation(t *testing.T) {
	d := New(domain.DefaultPolicy())
	now := time.Now().UTC()

	tests := []struct {
		name          string
		country, city string
		wantIssue     bool
		wantSeverity  domain.Severity
	}{
		{"complete location", "US", "NYC", false, ""},
		{"missing city", "US", "", true, domain.SeverityMedium},
		{"missing country", "", "NYC", true, domain.SeverityHigh},
		{"missing both is high", "", "", true, domain.SeverityHigh},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			issue := d.MissingLocation([]*domain.MerchantSnapshot{snap(now, 0.5, 0.01, tc.country, tc.city)})
			if tc.wantIssue != (issue != nil) {
				t.Fatalf("expected issue=%v, got %+v", tc.wantIssue, issue)
			}
			if issue != nil && issue.Severity != tc.wantSeverity {
				t.Errorf("expected severity %s, got %s", tc.wantSeverity, issue.Severity)
			}
		})
	}
}

func TestTrendRegression(t *testing.T) {
	d := New(domain.DefaultPolicy())
	month := func(m int, conversion float64) *domain.MerchantSnapshot {
		return snap(time.Date(2025, time.Month(m), 15, 0, 0, 0, 0, time.UTC), conversion, 0.01, "US", "NYC")
	}

	t.Run("two declining months is medium", func(t *testing.T) {
		issue := d.TrendRegression([]*domain.MerchantSnapshot{
			month(1, 0.60), month(2, 0.50), month(3, 0.40),
		})
		if issue == nil || issue.Severity != domain.SeverityMedium {
			t.Fatalf("expected medium issue, got %+v", issue)
		}
	})

	t.Run("three declining months is high", func(t *testing.T) {
		issue := d.TrendRegression([]*domain.MerchantSnapshot{
			month(1, 0.70), month(2, 0.60), month(3, 0.50), month(4, 0.40),
		})
		if issue == nil || issue.Severity != domain.SeverityHigh {
			t.Fatalf("expected high issue, got %+v", issue)
		}
	})

	t.Run("recovery resets the streak", func(t *testing.T) {
		issue := d.TrendRegression([]*domain.MerchantSnapshot{
			month(1, 0.70), month(2, 0.50), month(3, 0.40), month(4, 0.60),
		})
		if issue != nil {
			t.Fatalf("expected no issue after recovery, got %+v", issue)
		}
	})

	t.Run("flat history within dead band", func(t *testing.T) {
		issue := d.TrendRegression([]*domain.MerchantSnapshot{
			month(1, 0.50), month(2, 0.49), month(3, 0.50),
		})
		if issue != nil {
			t.Fatalf("expected no issue, got %+v", issue)
		}
	})

	t.Run("single month never fires", func(t *testing.T) {
		if issue := d.TrendRegression([]*domain.MerchantSnapshot{month(1, 0.10)}); issue != nil {
			t.Fatalf("expected no issue, got %+v", issue)
		}
	})
}

func TestDetectAll(t *testing.T) {
	d := New(domain.DefaultPolicy())
	now := time.Now().UTC()

	t.Run("healthy merchant has no issues", func(t *testing.T) {
		issues := d.DetectAll([]*domain.MerchantSnapshot{
			snap(now.Add(-24*time.Hour), 0.50, 0.02, "US", "NYC"),
			snap(now, 0.52, 0.02, "US", "NYC"),
		})
		if len(issues) != 0 {
			t.Fatalf("expected no issues, got %+v", issues)
		}
	})

	t.Run("collapsed merchant triggers multiple detectors", func(t *testing.T) {
		issues := d.DetectAll([]*domain.MerchantSnapshot{
			snap(now.Add(-48*time.Hour), 0.45, 0.02, "US", "NYC"),
			snap(now.Add(-24*time.Hour), 0.45, 0.02, "US", "NYC"),
			snap(now, 0.15, 0.30, "", ""),
		})
		found := map[domain.IssueKind]domain.Severity{}
		for _, i := range issues {
			found[i.Kind] = i.Severity
		}
		if found[domain.KindConversionDrop] != domain.SeverityHigh {
			t.Errorf("expected high conversion drop, got %s", found[domain.KindConversionDrop])
		}
		if found[domain.KindErrorSpike] != domain.SeverityHigh {
			t.Errorf("expected high error spike, got %s", found[domain.KindErrorSpike])
		}
		if found[domain.KindMissingLocation] != domain.SeverityHigh {
			t.Errorf("expected high missing location, got %s", found[domain.KindMissingLocation])
		}
	})

	t.Run("empty history", func(t *testing.T) {
		if issues := d.DetectAll(nil); len(issues) != 0 {
			t.Fatalf("expected no issues, got %+v", issues)
		}
	})
}
