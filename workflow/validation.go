package workflow

import (
	"fmt"
	"regexp"

	"github.com/mor/automatr/rules"
)

const (
	maxRuleSets = 100
	maxRules    = 200
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks a workflow definition. Two rule sets sharing a key are
// rejected with rules.ErrDuplicateKey.
func Validate(wf *rules.Workflow) error {
	if err := validateIdentifier(wf.Name); err != nil {
		return fmt.Errorf("invalid workflow name %q: %w", wf.Name, err)
	}
	if wf.RoutingKey == "" {
		return fmt.Errorf("workflow %q has no routing key", wf.Name)
	}

	switch wf.Policy {
	case rules.PolicyFirstMatch, rules.PolicyAggregate:
	default:
		return fmt.Errorf("workflow %q has unknown policy %q (must be one of: first_match, aggregate)", wf.Name, wf.Policy)
	}

	switch wf.Action {
	case rules.ActionResolve:
		if wf.Policy != rules.PolicyFirstMatch {
			return fmt.Errorf("workflow %q: action resolve requires policy first_match", wf.Name)
		}
	case rules.ActionCreateSubtask:
	default:
		return fmt.Errorf("workflow %q has unknown action %q (must be one of: resolve, create_subtask)", wf.Name, wf.Action)
	}

	if len(wf.RuleSets) == 0 {
		return fmt.Errorf("workflow %q must contain at least one rule set", wf.Name)
	}
	if len(wf.RuleSets) > maxRuleSets {
		return fmt.Errorf("workflow %q contains %d rule sets, maximum allowed is %d", wf.Name, len(wf.RuleSets), maxRuleSets)
	}

	seen := make(map[string]bool, len(wf.RuleSets))
	for i := range wf.RuleSets {
		rs := &wf.RuleSets[i]
		if seen[rs.Key] {
			return fmt.Errorf("workflow %q: %w: %s", wf.Name, rules.ErrDuplicateKey, rs.Key)
		}
		seen[rs.Key] = true

		if err := validateRuleSet(rs); err != nil {
			return fmt.Errorf("workflow %q: %w", wf.Name, err)
		}
	}
	return nil
}

func validateRuleSet(rs *rules.RuleSet) error {
	if err := validateIdentifier(rs.Key); err != nil {
		return fmt.Errorf("invalid rule set key %q: %w", rs.Key, err)
	}

	if len(rs.Rules) == 0 {
		return fmt.Errorf("rule set %q must contain at least one rule", rs.Key)
	}
	if len(rs.Rules) > maxRules {
		return fmt.Errorf("rule set %q contains %d rules, maximum allowed is %d", rs.Key, len(rs.Rules), maxRules)
	}
	for i, r := range rs.Rules {
		if r.Description == "" {
			return fmt.Errorf("rule %d in rule set %q has no description", i, rs.Key)
		}
		if r.Predicate == "" {
			return fmt.Errorf("rule %d in rule set %q has no predicate", i, rs.Key)
		}
	}

	for name := range rs.Input {
		if err := validateIdentifier(name); err != nil {
			return fmt.Errorf("invalid input %q in rule set %q: %w", name, rs.Key, err)
		}
	}
	for _, name := range rs.Required {
		if err := validateIdentifier(name); err != nil {
			return fmt.Errorf("invalid required variable %q in rule set %q: %w", name, rs.Key, err)
		}
	}

	if x := rs.Expansion; x != nil {
		fields := map[string]string{"items": x.Items, "leaves": x.Leaves, "leaf": x.Leaf}
		if x.Count != "" {
			fields["count"] = x.Count
		}
		if x.Link != "" {
			fields["link"] = x.Link
		}
		for field, name := range fields {
			if err := validateIdentifier(name); err != nil {
				return fmt.Errorf("invalid expand.%s %q in rule set %q: %w", field, name, rs.Key, err)
			}
		}
	}

	switch rs.Variables.(type) {
	case nil, map[string]any, []any:
	default:
		return fmt.Errorf("variables of rule set %q must be a mapping or a sequence", rs.Key)
	}
	return nil
}

// validateIdentifier checks a workflow, rule set or variable name:
// 1-100 characters matching ^[a-zA-Z_][a-zA-Z0-9_]*$
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	return nil
}
