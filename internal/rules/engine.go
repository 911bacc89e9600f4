// Package rules provides the CEL-Go based watch-rule engine. Watch rules
// are operator-defined advisory checks evaluated against a merchant's
// latest snapshot; they supplement the fixed detector set and never
// exceed medium severity.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates watch rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.WatchRule
	Program cel.Program
}

// NewEngine creates a watch-rule engine with the snapshot variable set.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("snapshot", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("conversion_rate", cel.DoubleType),
		cel.Variable("error_rate", cel.DoubleType),
		cel.Variable("transaction_count", cel.IntType),
		cel.Variable("status", cel.StringType),
		cel.Variable("has_location", cel.BoolType),
		cel.Variable("merchant_name", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.WatchRule) error {
	if rule == nil {
		return fmt.Errorf("watch rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.WatchRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(rules []*domain.WatchRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules atomically replaces the loaded rule set. This enables
// hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.WatchRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// Evaluate runs every loaded rule against the snapshot. Rules whose
// expression fails to evaluate are skipped; rules landing in a band with
// no severity produce no issue. Advisory severity is capped at medium.
func (e *Engine) Evaluate(snapshot *domain.MerchantSnapshot) []domain.Issue {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := map[string]any{
		"snapshot": map[string]any{
			"merchant_id":       snapshot.MerchantID,
			"merchant_name":     snapshot.MerchantName,
			"conversion_rate":   snapshot.ConversionRate,
			"error_rate":        snapshot.ErrorRate,
			"transaction_count": snapshot.TransactionCount,
			"country":           snapshot.Country,
			"city":              snapshot.City,
			"status":            string(snapshot.Status),
		},
		"conversion_rate":   snapshot.ConversionRate,
		"error_rate":        snapshot.ErrorRate,
		"transaction_count": snapshot.TransactionCount,
		"status":            string(snapshot.Status),
		"has_location":      snapshot.HasLocation(),
		"merchant_name":     snapshot.MerchantName,
	}

	var issues []domain.Issue
	for _, rule := range rules {
		// Rules are tenant-scoped; an empty tenant means global.
		if rule.Rule.TenantID != "" && rule.Rule.TenantID != snapshot.TenantID {
			continue
		}
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			continue
		}

		score := toScore(out)
		severity, message := matchBand(score, rule.Rule.Bands)
		if severity == "" {
			continue
		}
		if severity == domain.SeverityHigh {
			severity = domain.SeverityMedium
		}

		issues = append(issues, domain.Issue{
			Kind:       domain.KindWatchRule,
			Severity:   severity,
			MerchantID: snapshot.MerchantID,
			Evidence: map[string]float64{
				"score": score,
			},
			Recommendation: fmt.Sprintf("%s: %s", rule.Rule.Name, message),
		})
	}
	return issues
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule definitions.
func (e *Engine) GetLoadedRules() []*domain.WatchRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.WatchRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.WatchRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", rule.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a score. Bands are evaluated in
// order, lower inclusive, upper exclusive; a nil upper means infinity.
func matchBand(score float64, bands []domain.WatchBand) (domain.Severity, string) {
	for _, band := range bands {
		lower := 0.0
		hasUpper := band.UpperLimit != nil
		upper := float64(1e9)

		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if hasUpper {
			upper = *band.UpperLimit
		}

		if score >= lower && (!hasUpper || score < upper) {
			return band.Severity, band.Message
		}
	}
	return "", ""
}
