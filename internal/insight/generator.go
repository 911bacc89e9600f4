// Package insight turns a troubleshooting report into a human-readable
// summary with recommendations. Three paths exist: live AI, the last
// cached AI answer, and a deterministic template fallback. The Source
// field on the result always names the path that actually ran.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Generator produces merchant insights.
type Generator struct {
	ai     domain.Completer
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewGenerator creates a generator. cache may be nil; the cached path is
// then skipped. ttl bounds how long a cached AI answer stays servable.
func NewGenerator(ai domain.Completer, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Generator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{ai: ai, cache: cache, ttl: ttl, logger: logger}
}

// Generate builds an insight for the report. It never returns an error:
// AI failures degrade to the cached answer, then to templates.
func (g *Generator) Generate(ctx context.Context, report *domain.TroubleshootReport, merchant *domain.MerchantSnapshot) *domain.Insight {
	if g.ai != nil && g.ai.Enabled() {
		if ins := g.generateWithAI(ctx, report, merchant); ins != nil {
			g.storeCached(ctx, report.TenantID, ins)
			return ins
		}
		if ins := g.loadCached(ctx, report.TenantID, report.MerchantID); ins != nil {
			return ins
		}
	}
	return g.generateDemo(report)
}

func (g *Generator) generateWithAI(ctx context.Context, report *domain.TroubleshootReport, merchant *domain.MerchantSnapshot) *domain.Insight {
	var issueLines strings.Builder
	for _, issue := range report.Issues {
		fmt.Fprintf(&issueLines, "- %s (%s severity)\n", issue.Kind, issue.Severity)
	}
	if len(report.Issues) == 0 {
		issueLines.WriteString("- none\n")
	}

	prompt := fmt.Sprintf(
		"Analyze this merchant's performance and provide actionable troubleshooting insights.\n\n"+
			"Merchant: %s\nConversion rate: %.2f%%\nError rate: %.2f%%\nTransactions: %d\nRisk score: %d/100\nDetected issues:\n%s\n"+
			"Respond with a one-paragraph summary followed by a bulleted list of recommendations.",
		merchant.MerchantName,
		merchant.ConversionRate*100,
		merchant.ErrorRate*100,
		merchant.TransactionCount,
		report.RiskScore,
		issueLines.String(),
	)

	completion, err := g.ai.Complete(ctx, &domain.CompletionRequest{
		System:      "You are a merchant success specialist with expertise in payments optimization. Keep responses concise and practical.",
		Prompt:      prompt,
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		g.logger.Warn("ai insight generation failed",
			"merchant_id", report.MerchantID, "error", err)
		return nil
	}

	summary, recommendations := splitInsight(completion.Text)
	if summary == "" {
		g.logger.Warn("ai insight empty", "merchant_id", report.MerchantID)
		return nil
	}
	return &domain.Insight{
		MerchantID:      report.MerchantID,
		Summary:         summary,
		Recommendations: recommendations,
		Source:          domain.SourceAI,
		GeneratedAt:     time.Now().UTC(),
	}
}

func (g *Generator) storeCached(ctx context.Context, tenantID string, ins *domain.Insight) {
	if g.cache == nil {
		return
	}
	if err := g.cache.SetInsight(ctx, tenantID, ins.MerchantID, ins, g.ttl); err != nil {
		g.logger.Warn("caching insight failed", "merchant_id", ins.MerchantID, "error", err)
	}
}

func (g *Generator) loadCached(ctx context.Context, tenantID, merchantID string) *domain.Insight {
	if g.cache == nil {
		return nil
	}
	cached, err := g.cache.GetInsight(ctx, tenantID, merchantID)
	if err != nil || cached == nil {
		return nil
	}
	cached.Source = domain.SourceCached
	return cached
}

// Fixed recommendation sets keyed by the dominant issue kind. These are
// stable strings so dashboards and tests can match on them.
var demoTemplates = map[domain.IssueKind]struct {
	summary string
	recs    []string
}{
	domain.KindMissingLocation: {
		summary: "Merchant profile is missing location data, which blocks compliance checks and weakens fraud screening.",
		recs: []string{
			"Verify merchant registration address",
			"Update merchant profile with location information",
		},
	},
	domain.KindErrorSpike: {
		summary: "Transaction error rate is elevated beyond normal fluctuation, indicating an integration or gateway problem.",
		recs: []string{
			"Investigate payment gateway integration logs",
			"Investigate error patterns and system issues",
		},
	},
	domain.KindConversionDrop: {
		summary: "Conversion rate has fallen significantly versus the merchant's recent baseline.",
		recs: []string{
			"Review payment flow and checkout process",
			"Analyze failed transaction patterns",
		},
	},
	domain.KindTrendRegression: {
		summary: "Conversion performance has been declining for consecutive months.",
		recs: []string{
			"Schedule a merchant performance review",
			"Prepare optimization recommendations",
		},
	},
	domain.KindWatchRule: {
		summary: "An operator-defined watch rule flagged this merchant for review.",
		recs: []string{
			"Review the triggered watch rule conditions",
			"Confirm whether the flagged behavior is expected",
		},
	},
}

// generateDemo selects a fixed template by the dominant issue, which is
// the first issue of the report since reports are ordered by severity
// and kind priority. Identical input always yields identical output.
func (g *Generator) generateDemo(report *domain.TroubleshootReport) *domain.Insight {
	ins := &domain.Insight{
		MerchantID:  report.MerchantID,
		Source:      domain.SourceDemo,
		GeneratedAt: time.Now().UTC(),
	}

	if len(report.Issues) == 0 {
		ins.Summary = "No outstanding issues detected. Merchant metrics are within healthy bounds."
		ins.Recommendations = []string{"Continue routine monitoring"}
		return ins
	}

	dominant := report.Issues[0]
	tpl := demoTemplates[dominant.Kind]
	ins.Summary = fmt.Sprintf("%s Risk score: %d/100 across %d detected issue(s).",
		tpl.summary, report.RiskScore, len(report.Issues))
	ins.Recommendations = append([]string(nil), tpl.recs...)
	return ins
}

// splitInsight separates free-form model output into a summary paragraph
// and bullet recommendations.
func splitInsight(text string) (string, []string) {
	var summary []string
	var recs []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if trimmed, ok := stripBullet(line); ok {
			recs = append(recs, trimmed)
			continue
		}
		if len(recs) == 0 {
			summary = append(summary, line)
		}
	}
	return strings.Join(summary, " "), recs
}

func stripBullet(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	// Numbered lists like "1. Do the thing".
	if len(line) > 2 && line[0] >= '1' && line[0] <= '9' && (line[1] == '.' || line[1] == ')') {
		return strings.TrimSpace(line[2:]), true
	}
	return "", false
}
