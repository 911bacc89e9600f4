package insight

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeCompleter struct {
	enabled bool
	text    string
	err     error
}

func (f *fakeCompleter) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Completion{Text: f.text}, nil
}

func (f *fakeCompleter) Enabled() bool    { return f.enabled }
func (f *fakeCompleter) Provider() string { return "fake" }

type fakeCache struct {
	insights map[string]*domain.Insight
}

func newFakeCache() *fakeCache {
	return &fakeCache{insights: map[string]*domain.Insight{}}
}

func (f *fakeCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) { return nil, nil }
func (f *fakeCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (f *fakeCache) Delete(ctx context.Context, tenantID, key string) error { return nil }
func (f *fakeCache) GetInsight(ctx context.Context, tenantID, merchantID string) (*domain.Insight, error) {
	ins := f.insights[tenantID+"/"+merchantID]
	if ins == nil {
		return nil, nil
	}
	cp := *ins
	return &cp, nil
}
func (f *fakeCache) SetInsight(ctx context.Context, tenantID, merchantID string, ins *domain.Insight, ttl time.Duration) error {
	cp := *ins
	f.insights[tenantID+"/"+merchantID] = &cp
	return nil
}
func (f *fakeCache) IncrementCounter(ctx context.Context, tenantID, key string, window time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeCache) Ping(ctx context.Context) error { return nil }
func (f *fakeCache) Close() error                   { return nil }

func report(issues ...domain.Issue) *domain.TroubleshootReport {
	score := 0
	for _, i := range issues {
		switch i.Severity {
		case domain.SeverityHigh:
			score += 40
		case domain.SeverityMedium:
			score += 20
		default:
			score += 5
		}
	}
	return &domain.TroubleshootReport{
		ID:         "r-1",
		TenantID:   "tenant-a",
		MerchantID: "m-1",
		RiskScore:  score,
		Issues:     issues,
	}
}

func merchant() *domain.MerchantSnapshot {
	return &domain.MerchantSnapshot{
		TenantID:       "tenant-a",
		MerchantID:     "m-1",
		MerchantName:   "Acme Tech",
		ConversionRate: 0.4,
		ErrorRate:      0.02,
	}
}

func TestGenerateAIPath(t *testing.T) {
	ai := &fakeCompleter{
		enabled: true,
		text:    "Merchant looks healthy overall.\n- Keep monitoring conversion\n- Review checkout latency",
	}
	g := NewGenerator(ai, newFakeCache(), time.Hour, nil)

	ins := g.Generate(context.Background(), report(), merchant())
	if ins.Source != domain.SourceAI {
		t.Fatalf("expected ai source, got %s", ins.Source)
	}
	if ins.Summary != "Merchant looks healthy overall." {
		t.Errorf("unexpected summary %q", ins.Summary)
	}
	if len(ins.Recommendations) != 2 {
		t.Errorf("expected 2 recommendations, got %v", ins.Recommendations)
	}
}

func TestGenerateCachedFallback(t *testing.T) {
	cache := newFakeCache()
	good := &fakeCompleter{enabled: true, text: "All good.\n- Stay the course"}
	g := NewGenerator(good, cache, time.Hour, nil)
	first := g.Generate(context.Background(), report(), merchant())
	if first.Source != domain.SourceAI {
		t.Fatalf("expected ai source, got %s", first.Source)
	}

	// Backend now rate limited; the cached answer is served instead.
	broken := &fakeCompleter{enabled: true, err: domain.ErrAIRateLimited}
	g2 := NewGenerator(broken, cache, time.Hour, nil)
	second := g2.Generate(context.Background(), report(), merchant())
	if second.Source != domain.SourceCached {
		t.Fatalf("expected cached source, got %s", second.Source)
	}
	if second.Summary != first.Summary {
		t.Errorf("cached summary differs: %q vs %q", second.Summary, first.Summary)
	}
}

func TestGenerateDemoFallback(t *testing.T) {
	t.Run("ai disabled", func(t *testing.T) {
		g := NewGenerator(&fakeCompleter{enabled: false}, newFakeCache(), time.Hour, nil)
		ins := g.Generate(context.Background(), report(), merchant())
		if ins.Source != domain.SourceDemo {
			t.Fatalf("expected demo source, got %s", ins.Source)
		}
	})

	t.Run("ai failed with cold cache", func(t *testing.T) {
		g := NewGenerator(&fakeCompleter{enabled: true, err: domain.ErrAITimeout}, newFakeCache(), time.Hour, nil)
		ins := g.Generate(context.Background(), report(), merchant())
		if ins.Source != domain.SourceDemo {
			t.Fatalf("expected demo source, got %s", ins.Source)
		}
	})

	t.Run("nil cache", func(t *testing.T) {
		g := NewGenerator(&fakeCompleter{enabled: true, err: domain.ErrAIUnavailable}, nil, time.Hour, nil)
		ins := g.Generate(context.Background(), report(), merchant())
		if ins.Source != domain.SourceDemo {
			t.Fatalf("expected demo source, got %s", ins.Source)
		}
	})
}

func TestGenerateDemoDeterministic(t *testing.T) {
	g := NewGenerator(&fakeCompleter{enabled: false}, nil, time.Hour, nil)
	r := report(
		domain.Issue{Kind: domain.KindErrorSpike, Severity: domain.SeverityHigh, MerchantID: "m-1"},
		domain.Issue{Kind: domain.KindConversionDrop, Severity: domain.SeverityMedium, MerchantID: "m-1"},
	)

	first := g.Generate(context.Background(), r, merchant())
	second := g.Generate(context.Background(), r, merchant())
	if first.Summary != second.Summary {
		t.Errorf("demo summaries differ: %q vs %q", first.Summary, second.Summary)
	}
	if len(first.Recommendations) != len(second.Recommendations) {
		t.Fatalf("recommendation counts differ")
	}
	for i := range first.Recommendations {
		if first.Recommendations[i] != second.Recommendations[i] {
			t.Errorf("recommendation %d differs", i)
		}
	}
}

func TestGenerateDemoTemplates(t *testing.T) {
	g := NewGenerator(nil, nil, time.Hour, nil)

	tests := []struct {
		kind     domain.IssueKind
		wantRec  string
	}{
		{domain.KindMissingLocation, "Verify merchant registration address"},
		{domain.KindErrorSpike, "Investigate payment gateway integration logs"},
		{domain.KindConversionDrop, "Review payment flow and checkout process"},
		{domain.KindTrendRegression, "Schedule a merchant performance review"},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			ins := g.Generate(context.Background(),
				report(domain.Issue{Kind: tc.kind, Severity: domain.SeverityHigh, MerchantID: "m-1"}),
				merchant())
			found := false
			for _, r := range ins.Recommendations {
				if r == tc.wantRec {
					found = true
				}
			}
			if !found {
				t.Errorf("expected recommendation %q, got %v", tc.wantRec, ins.Recommendations)
			}
		})
	}

	t.Run("no issues", func(t *testing.T) {
		ins := g.Generate(context.Background(), report(), merchant())
		if ins.Source != domain.SourceDemo {
			t.Fatalf("expected demo source, got %s", ins.Source)
		}
		if len(ins.Recommendations) == 0 {
			t.Error("expected at least one recommendation")
		}
	})
}

func TestSplitInsight(t *testing.T) {
	summary, recs := splitInsight("Line one.\nLine two.\n\n1. First step\n2) Second step\n* Third step")
	if summary != "Line one. Line two." {
		t.Errorf("unexpected summary %q", summary)
	}
	want := []string{"First step", "Second step", "Third step"}
	if len(recs) != len(want) {
		t.Fatalf("expected %d recs, got %v", len(want), recs)
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Errorf("rec %d: expected %q, got %q", i, want[i], recs[i])
		}
	}
}
