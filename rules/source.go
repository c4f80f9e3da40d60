package rules

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mor/automatr/settings"
)

// VariableMode selects where rule-set variables come from
type VariableMode string

const (
	// VariablesEmbedded reads a JSON override per workflow, falling back to
	// the variables written in the rule set itself
	VariablesEmbedded VariableMode = "embedded"
	// VariablesRemote reads the settings collection at evaluation time
	VariablesRemote VariableMode = "remote"
)

// VariableResolver obtains the raw variable source of every rule set in a workflow.
// It never fails: malformed data for one rule set resolves to no source for
// that rule set and a warning.
type VariableResolver struct {
	mode      VariableMode
	overrides map[string]string
	store     settings.Store
	logger    *slog.Logger
}

// NewEmbeddedResolver resolves variables from per-workflow JSON overrides,
// keyed by lowercase workflow name, e.g. {"melding_afhandelen": `{"rule_key": {...}}`}.
func NewEmbeddedResolver(overrides map[string]string, logger *slog.Logger) *VariableResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &VariableResolver{mode: VariablesEmbedded, overrides: overrides, logger: logger}
}

// NewRemoteResolver resolves variables from a settings store
func NewRemoteResolver(store settings.Store, logger *slog.Logger) *VariableResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &VariableResolver{mode: VariablesRemote, store: store, logger: logger}
}

// Mode returns the configured variable mode
func (r *VariableResolver) Mode() VariableMode {
	return r.mode
}

// Resolve returns the raw source per rule-set key. Rule sets without a usable
// source are absent from the result.
func (r *VariableResolver) Resolve(ctx context.Context, wf *Workflow) map[string]any {
	if r.mode == VariablesRemote {
		return r.resolveRemote(ctx, wf)
	}
	return r.resolveEmbedded(wf)
}

func (r *VariableResolver) resolveEmbedded(wf *Workflow) map[string]any {
	overrides := map[string]any{}
	if raw, ok := r.overrides[strings.ToLower(wf.Name)]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			r.logger.Warn("ignoring malformed variable override",
				"workflow", wf.Name, "error", err)
			overrides = map[string]any{}
		}
	}

	sources := make(map[string]any, len(wf.RuleSets))
	for _, rs := range wf.RuleSets {
		if v, ok := overrides[rs.Key]; ok {
			if !isSourceShape(v) {
				r.logger.Warn("variable override is neither a mapping nor a sequence",
					"workflow", wf.Name, "rule_set", rs.Key)
				continue
			}
			sources[rs.Key] = v
			continue
		}
		if rs.Variables != nil {
			sources[rs.Key] = rs.Variables
			continue
		}
		sources[rs.Key] = map[string]any{}
	}
	return sources
}

func (r *VariableResolver) resolveRemote(ctx context.Context, wf *Workflow) map[string]any {
	sources := make(map[string]any, len(wf.RuleSets))

	entries, err := r.store.List(ctx)
	if err != nil {
		r.logger.Warn("failed to fetch remote settings, no bindings for this event",
			"workflow", wf.Name, "error", err)
		return sources
	}

	for _, rs := range wf.RuleSets {
		var found *settings.Entry
		matches := 0
		for i := range entries {
			if !entries[i].Matches(rs.Key) {
				continue
			}
			if found == nil {
				found = &entries[i]
			}
			matches++
		}
		if found == nil {
			continue
		}
		if matches > 1 {
			r.logger.Warn("several remote settings entries match, using the first",
				"workflow", wf.Name, "rule_set", rs.Key, "matches", matches, "key", found.Key)
		}

		if len(found.Variables) == 0 || !gjson.ValidBytes(found.Variables) {
			r.logger.Warn("malformed remote variables",
				"workflow", wf.Name, "rule_set", rs.Key)
			continue
		}
		v := gjson.ParseBytes(found.Variables).Value()
		if !isSourceShape(v) {
			r.logger.Warn("remote variables are neither a mapping nor a sequence",
				"workflow", wf.Name, "rule_set", rs.Key)
			continue
		}
		sources[rs.Key] = v
	}
	return sources
}

func isSourceShape(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
