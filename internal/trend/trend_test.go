package trend

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func snap(merchant string, ts time.Time, conversion, errRate float64, txns int64) *domain.MerchantSnapshot {
	return &domain.MerchantSnapshot{
		MerchantID:       merchant,
		ConversionRate:   conversion,
		ErrorRate:        errRate,
		TransactionCount: txns,
		Timestamp:        ts,
	}
}

func TestCompare(t *testing.T) {
	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	t.Run("empty history", func(t *testing.T) {
		if got := Compare(nil, 0.05); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("single period is stable", func(t *testing.T) {
		stats := Compare([]*domain.MerchantSnapshot{snap("m1", jan, 0.5, 0.01, 100)}, 0.05)
		if len(stats) != 1 {
			t.Fatalf("expected 1 period, got %d", len(stats))
		}
		if stats[0].Trend != domain.TrendStable {
			t.Errorf("expected stable, got %s", stats[0].Trend)
		}
		if stats[0].Period != "2025-01" {
			t.Errorf("expected period 2025-01, got %s", stats[0].Period)
		}
	})

	t.Run("averages within a month", func(t *testing.T) {
		stats := Compare([]*domain.MerchantSnapshot{
			snap("m1", jan, 0.4, 0.02, 100),
			snap("m1", jan.Add(24*time.Hour), 0.6, 0.04, 200),
		}, 0.05)
		if len(stats) != 1 {
			t.Fatalf("expected 1 period, got %d", len(stats))
		}
		if stats[0].ConversionRate != 0.5 {
			t.Errorf("expected conversion 0.5, got %f", stats[0].ConversionRate)
		}
		if stats[0].ErrorRate != 0.03 {
			t.Errorf("expected error rate 0.03, got %f", stats[0].ErrorRate)
		}
		if stats[0].TransactionCount != 300 {
			t.Errorf("expected 300 transactions, got %d", stats[0].TransactionCount)
		}
	})

	t.Run("classifies month over month", func(t *testing.T) {
		stats := Compare([]*domain.MerchantSnapshot{
			snap("m1", jan, 0.50, 0.01, 100),
			snap("m1", feb, 0.60, 0.01, 100), // +20%
			snap("m1", mar, 0.45, 0.01, 100), // -25%
		}, 0.05)
		if len(stats) != 3 {
			t.Fatalf("expected 3 periods, got %d", len(stats))
		}
		want := []domain.Trend{domain.TrendStable, domain.TrendImproving, domain.TrendDeclining}
		for i, w := range want {
			if stats[i].Trend != w {
				t.Errorf("period %s: expected %s, got %s", stats[i].Period, w, stats[i].Trend)
			}
		}
	})

	t.Run("dead band suppresses noise", func(t *testing.T) {
		stats := Compare([]*domain.MerchantSnapshot{
			snap("m1", jan, 0.50, 0.01, 100),
			snap("m1", feb, 0.52, 0.01, 100), // +4%, inside band
			snap("m1", mar, 0.50, 0.01, 100), // -3.8%, inside band
		}, 0.05)
		for _, s := range stats {
			if s.Trend != domain.TrendStable {
				t.Errorf("period %s: expected stable, got %s", s.Period, s.Trend)
			}
		}
	})

	t.Run("zero prior rate has no baseline", func(t *testing.T) {
		stats := Compare([]*domain.MerchantSnapshot{
			snap("m1", jan, 0, 0.01, 100),
			snap("m1", feb, 0.10, 0.01, 100),
		}, 0.05)
		if stats[1].Trend != domain.TrendStable {
			t.Errorf("expected stable, got %s", stats[1].Trend)
		}
	})

	t.Run("periods sorted ascending", func(t *testing.T) {
		stats := Compare([]*domain.MerchantSnapshot{
			snap("m1", mar, 0.5, 0.01, 100),
			snap("m1", jan, 0.5, 0.01, 100),
		}, 0.05)
		if stats[0].Period != "2025-01" || stats[1].Period != "2025-03" {
			t.Errorf("unexpected order: %s, %s", stats[0].Period, stats[1].Period)
		}
	})
}
