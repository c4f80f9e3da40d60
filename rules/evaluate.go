package rules

import (
	"fmt"
	"log/slog"
)

type renderedRule struct {
	description string
	predicate   string
}

// renderRules fills the binding into every description and predicate template.
// Any missing placeholder fails the whole binding.
func renderRules(rs *RuleSet, b Binding) ([]renderedRule, error) {
	out := make([]renderedRule, 0, len(rs.Rules))
	for i, r := range rs.Rules {
		desc, err := Render(r.Description, b)
		if err != nil {
			return nil, fmt.Errorf("rule %d description: %w", i, err)
		}
		pred, err := Render(r.Predicate, b)
		if err != nil {
			return nil, fmt.Errorf("rule %d predicate: %w", i, err)
		}
		out = append(out, renderedRule{description: desc, predicate: pred})
	}
	return out, nil
}

// EvaluateBinding renders the rule set for one binding and evaluates every
// predicate against the case document. All predicates are evaluated, even
// after one fails, so the audit trail is complete. A predicate the matcher
// cannot evaluate counts as failed.
func EvaluateBinding(m Matcher, rs *RuleSet, b Binding, melding map[string]any, logger *slog.Logger) ([]PredicateResult, error) {
	rendered, err := renderRules(rs, b)
	if err != nil {
		return nil, err
	}

	results := make([]PredicateResult, 0, len(rendered))
	for _, r := range rendered {
		passed, err := m.Match(r.predicate, melding)
		if err != nil {
			logger.Warn("predicate could not be evaluated, counting it as failed",
				"rule_set", rs.Key, "description", r.description, "error", err)
			passed = false
		}
		results = append(results, PredicateResult{Description: r.description, Passed: passed})
	}
	return results, nil
}

// AllPassed reports whether every result passed. An empty result set never passes.
func AllPassed(results []PredicateResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
