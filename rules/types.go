package rules

import "time"

// Policy selects how per-binding predicate results turn into actions
type Policy string

const (
	// PolicyFirstMatch stops at the first binding whose predicates all pass
	PolicyFirstMatch Policy = "first_match"
	// PolicyAggregate acts for every group whose leaf bindings all pass
	PolicyAggregate Policy = "aggregate"
)

// ActionKind is the side effect issued against the case-management system
type ActionKind string

const (
	ActionResolve       ActionKind = "resolve"
	ActionCreateSubtask ActionKind = "create_subtask"
)

// Workflow is one rule-set family bound to a routing key
type Workflow struct {
	Name          string            `yaml:"name" json:"name"`
	Title         string            `yaml:"title" json:"title"`
	RoutingKey    string            `yaml:"routing_key" json:"routingKey"`
	Policy        Policy            `yaml:"policy" json:"policy"`
	Action        ActionKind        `yaml:"action" json:"action"`
	RequiredField string            `yaml:"required_field" json:"requiredField"`
	Defaults      map[string]string `yaml:"defaults" json:"defaults,omitempty"`
	RuleSets      []RuleSet         `yaml:"rule_sets" json:"ruleSets"`
}

// ActiveRuleSets returns the active rule sets in declaration order
func (w *Workflow) ActiveRuleSets() []*RuleSet {
	active := make([]*RuleSet, 0, len(w.RuleSets))
	for i := range w.RuleSets {
		if w.RuleSets[i].Active {
			active = append(active, &w.RuleSets[i])
		}
	}
	return active
}

// RuleSet is a named bundle of predicates, variable defaults and output templates
type RuleSet struct {
	Key       string            `yaml:"key" json:"key"`
	Title     string            `yaml:"title" json:"title"`
	Active    bool              `yaml:"active" json:"active"`
	Input     map[string]string `yaml:"input" json:"input,omitempty"`
	Required  []string          `yaml:"required" json:"required,omitempty"`
	Rules     []Rule            `yaml:"rules" json:"rules"`
	Data      map[string]string `yaml:"data" json:"data,omitempty"`
	Variables any               `yaml:"variables" json:"variables,omitempty"`
	Expansion *Expansion        `yaml:"expand" json:"expand,omitempty"`
}

// Rule pairs a human-readable description template with a predicate template
type Rule struct {
	Description string `yaml:"description" json:"description"`
	Predicate   string `yaml:"predicate" json:"predicate"`
}

// Expansion describes nested sub-items whose leaves are cross-producted into bindings.
// For a source entry {"vragen": [{"question": q, "answers": [a1, a2]}]} with
// Items "vragen", Leaves "answers", Leaf "answer" and Count "answers_count",
// two bindings are produced, each carrying question, answer and answers_count=2.
type Expansion struct {
	Items  string `yaml:"items" json:"items"`
	Leaves string `yaml:"leaves" json:"leaves"`
	Leaf   string `yaml:"leaf" json:"leaf"`
	Count  string `yaml:"count" json:"count,omitempty"`
	Link   string `yaml:"link" json:"link,omitempty"`
}

// Binding is one concrete assignment of template variables
type Binding map[string]any

// Clone returns a shallow copy of the binding
func (b Binding) Clone() Binding {
	c := make(Binding, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// Group is the set of bindings that must pass together under the aggregate policy
type Group struct {
	Index    int
	Bindings []Binding
	// Rejected holds candidate bindings that failed the required-field check
	Rejected []error
}

// PredicateResult is the outcome of one rendered rule for one binding
type PredicateResult struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
}

// Event is one decoded broker delivery
type Event struct {
	ID         string
	RoutingKey string
	CaseURL    string
	ReceivedAt time.Time
}

// Evaluation records one match attempt, used for dry runs and logging
type Evaluation struct {
	RuleSet string            `json:"ruleSet"`
	Group   int               `json:"group"`
	Binding Binding           `json:"binding"`
	Results []PredicateResult `json:"results"`
	Matched bool              `json:"matched"`
	Error   string            `json:"error,omitempty"`
}

// TaskType is the descriptor returned by a task-type lookup
type TaskType struct {
	URL   string
	Title string
}
