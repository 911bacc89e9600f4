// Package locate resolves missing merchant location data. The resolver
// prefers the AI backend but always degrades to a deterministic
// rule-based guess, so resolution never fails outright.
package locate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// keywordRule maps merchant-name keywords to a likely business hub.
type keywordRule struct {
	keywords []string
	country  string
	city     string
}

// Ordered: the first matching rule wins.
var keywordRules = []keywordRule{
	{[]string{"tech", "digital", "software", "ai", "data"}, "US", "San Francisco"},
	{[]string{"retail", "store", "shop", "market"}, "US", "New York"},
	{[]string{"e-commerce", "ecommerce", "online", "web"}, "US", "Los Angeles"},
	{[]string{"global", "international", "world"}, "UK", "London"},
}

const (
	confidenceComplete = 1.0
	confidenceKeyword  = 0.3
	confidenceUnknown  = 0.1
)

// Resolver proposes location data for merchants missing it.
type Resolver struct {
	ai     domain.Completer
	policy domain.Policy
	logger *slog.Logger
}

// NewResolver creates a resolver. The completer may be disabled; the
// rule-based path covers that.
func NewResolver(ai domain.Completer, policy domain.Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{ai: ai, policy: policy, logger: logger}
}

// Resolve proposes a location for the snapshot's merchant. The proposed
// country is never empty. The result is a proposal only; persisting it
// is the caller's decision.
func (r *Resolver) Resolve(ctx context.Context, snapshot *domain.MerchantSnapshot) *domain.LocationResolution {
	res := &domain.LocationResolution{
		ID:         uuid.New().String(),
		TenantID:   snapshot.TenantID,
		MerchantID: snapshot.MerchantID,
		ResolvedAt: time.Now().UTC(),
	}

	// Nothing to resolve. Echo the existing location.
	if snapshot.HasLocation() {
		res.ProposedCountry = snapshot.Country
		res.ProposedCity = snapshot.City
		res.Confidence = confidenceComplete
		res.Method = domain.MethodRuleBased
		res.Rationale = "location already complete"
		return res
	}

	if r.ai != nil && r.ai.Enabled() {
		if ok := r.resolveWithAI(ctx, snapshot, res); ok {
			return res
		}
	}

	r.resolveWithRules(snapshot, res)
	return res
}

// resolveWithAI asks the backend for a structured location guess. It
// returns false when the answer is unusable, for any reason, so the
// caller falls through to the rule-based path.
func (r *Resolver) resolveWithAI(ctx context.Context, snapshot *domain.MerchantSnapshot, res *domain.LocationResolution) bool {
	completion, err := r.ai.Complete(ctx, &domain.CompletionRequest{
		System: "You infer the most likely business location for a merchant from its name and activity profile. Respond with a JSON object only.",
		Prompt: fmt.Sprintf(
			"Merchant name: %q. Known country: %q. Known city: %q. Monthly transactions: %d. Return JSON with fields country (ISO name), city, confidence (0..1), rationale.",
			snapshot.MerchantName, snapshot.Country, snapshot.City, snapshot.TransactionCount,
		),
		Schema:      map[string]string{"country": "string", "city": "string", "confidence": "number"},
		MaxTokens:   200,
		Temperature: 0.2,
	})
	if err != nil {
		r.logger.Warn("ai location resolution failed, using rules",
			"merchant_id", snapshot.MerchantID, "error", err)
		return false
	}

	country, _ := completion.Structured["country"].(string)
	city, _ := completion.Structured["city"].(string)
	confidence, _ := completion.Structured["confidence"].(float64)
	rationale, _ := completion.Structured["rationale"].(string)

	if country == "" || confidence < r.policy.AIConfidenceFloor {
		r.logger.Info("ai location proposal rejected",
			"merchant_id", snapshot.MerchantID, "confidence", confidence)
		return false
	}

	res.ProposedCountry = country
	res.ProposedCity = city
	res.Confidence = confidence
	res.Method = domain.MethodAI
	res.Rationale = rationale
	if res.Rationale == "" {
		res.Rationale = "inferred from merchant profile"
	}
	return true
}

// resolveWithRules matches merchant-name keywords against known business
// hubs. Fields the snapshot already carries are kept; keywords fill only
// the missing ones. With no match and no known country the country is
// "Unknown" rather than empty, so consumers can tell a failed attempt
// from an unattempted one.
func (r *Resolver) resolveWithRules(snapshot *domain.MerchantSnapshot, res *domain.LocationResolution) {
	res.Method = domain.MethodRuleBased
	res.ProposedCountry = snapshot.Country
	res.ProposedCity = snapshot.City
	name := strings.ToLower(snapshot.MerchantName)

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if !strings.Contains(name, kw) {
				continue
			}
			if res.ProposedCountry == "" {
				res.ProposedCountry = rule.country
			}
			if res.ProposedCity == "" {
				res.ProposedCity = rule.city
			}
			res.Confidence = confidenceKeyword
			res.Rationale = fmt.Sprintf("merchant name matches %q", kw)
			return
		}
	}

	if res.ProposedCountry == "" {
		res.ProposedCountry = "Unknown"
	}
	res.Confidence = confidenceUnknown
	res.Rationale = "no keyword match"
}
