package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// CaseVariable is the name under which the case document is visible to predicates
const CaseVariable = "melding"

// costLimit prevents resource exhaustion from runaway expressions
const costLimit = 1000000

// Matcher evaluates a rendered boolean predicate against a case document
type Matcher interface {
	Match(predicate string, melding map[string]any) (bool, error)
}

// CELMatcher evaluates predicates written in CEL.
// Thread-safe: compiled programs are shared through the cache.
type CELMatcher struct {
	env   *cel.Env
	cache ProgramCache
}

// NewCELMatcher creates a matcher with the default environment: a single
// dynamic map variable "melding" plus the CEL string extensions.
func NewCELMatcher() (*CELMatcher, error) {
	env, err := cel.NewEnv(
		cel.Variable(CaseVariable, cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return NewCELMatcherWithEnv(env, NewInMemoryProgramCache(DefaultCacheConfig())), nil
}

// NewCELMatcherWithEnv creates a matcher with a custom CEL environment and cache
func NewCELMatcherWithEnv(env *cel.Env, cache ProgramCache) *CELMatcher {
	return &CELMatcher{
		env:   env,
		cache: cache,
	}
}

// Compile compiles an expression to a CEL program, consulting the cache first
func (m *CELMatcher) Compile(expression string) (cel.Program, error) {
	if prog, ok := m.cache.Get(expression); ok {
		return prog, nil
	}

	ast, issues := m.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := m.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	m.cache.Set(expression, prog)
	return prog, nil
}

// Match evaluates the predicate against the case document.
// Non-boolean results are treated as false.
func (m *CELMatcher) Match(predicate string, melding map[string]any) (bool, error) {
	prog, err := m.Compile(predicate)
	if err != nil {
		return false, err
	}

	out, _, err := prog.Eval(map[string]any{CaseVariable: melding})
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, nil
	}
	return matched, nil
}

// Reset drops every compiled program
func (m *CELMatcher) Reset() {
	m.cache.Invalidate()
}
