// Package trend buckets snapshot history into calendar months and
// classifies month-over-month conversion movement.
package trend

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Compare aggregates snapshots into calendar-month buckets (UTC) and
// classifies each month against its predecessor. Movement within the
// dead band is stable; the first month is always stable. Months with no
// snapshots are simply absent from the result.
func Compare(history []*domain.MerchantSnapshot, deadBand float64) []domain.MonthlyStat {
	if len(history) == 0 {
		return nil
	}

	type bucket struct {
		conversionSum float64
		errorSum      float64
		transactions  int64
		count         int
	}
	buckets := make(map[string]*bucket)
	for _, s := range history {
		period := s.Timestamp.UTC().Format("2006-01")
		b := buckets[period]
		if b == nil {
			b = &bucket{}
			buckets[period] = b
		}
		b.conversionSum += s.ConversionRate
		b.errorSum += s.ErrorRate
		b.transactions += s.TransactionCount
		b.count++
	}

	periods := make([]string, 0, len(buckets))
	for p := range buckets {
		periods = append(periods, p)
	}
	sort.Strings(periods)

	stats := make([]domain.MonthlyStat, 0, len(periods))
	for i, p := range periods {
		b := buckets[p]
		stat := domain.MonthlyStat{
			Period:           p,
			ConversionRate:   b.conversionSum / float64(b.count),
			ErrorRate:        b.errorSum / float64(b.count),
			TransactionCount: b.transactions,
			Trend:            domain.TrendStable,
		}
		if i > 0 {
			stat.Trend = classify(stats[i-1].ConversionRate, stat.ConversionRate, deadBand)
		}
		stats = append(stats, stat)
	}
	return stats
}

// classify compares a month's conversion rate against the prior month.
// A non-positive prior rate gives no baseline, so the month is stable.
func classify(prev, current, deadBand float64) domain.Trend {
	if prev <= 0 {
		return domain.TrendStable
	}
	change := (current - prev) / prev
	switch {
	case change > deadBand:
		return domain.TrendImproving
	case change < -deadBand:
		return domain.TrendDeclining
	default:
		return domain.TrendStable
	}
}
