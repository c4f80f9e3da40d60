package rules

import "fmt"

// normalizeSource turns a raw variable source into an ordered list of entries.
// A mapping yields one entry, a sequence yields its mapping elements in order,
// anything else yields nothing.
func normalizeSource(raw any) []map[string]any {
	switch src := raw.(type) {
	case map[string]any:
		return []map[string]any{src}
	case []map[string]any:
		return src
	case []any:
		entries := make([]map[string]any, 0, len(src))
		for _, item := range src {
			if m, ok := item.(map[string]any); ok {
				entries = append(entries, m)
			}
		}
		return entries
	default:
		return nil
	}
}

// Expand converts the rule set's raw variable source into groups of bindings.
// Without an Expansion every source entry becomes a group holding one binding.
// With an Expansion every leaf of every linked sub-item becomes a binding in
// the group of the entry it came from.
func (rs *RuleSet) Expand(raw any) []Group {
	entries := normalizeSource(raw)
	groups := make([]Group, 0, len(entries))

	for i, entry := range entries {
		g := Group{Index: i}
		for _, candidate := range rs.candidates(entry) {
			b, err := rs.bind(candidate)
			if err != nil {
				g.Rejected = append(g.Rejected, err)
				continue
			}
			g.Bindings = append(g.Bindings, b)
		}
		groups = append(groups, g)
	}

	return groups
}

func (rs *RuleSet) candidates(entry map[string]any) []Binding {
	if rs.Expansion == nil {
		return []Binding{Binding(entry).Clone()}
	}

	x := rs.Expansion
	shared := make(Binding, len(entry))
	for k, v := range entry {
		if k != x.Items {
			shared[k] = v
		}
	}

	items, _ := entry[x.Items].([]any)
	var out []Binding
	for _, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}

		base := shared.Clone()
		for k, v := range item {
			if k != x.Leaves {
				base[k] = v
			}
		}
		if x.Link != "" && isEmpty(base[x.Link]) {
			continue
		}

		leaves, _ := item[x.Leaves].([]any)
		for _, leaf := range leaves {
			b := base.Clone()
			b[x.Leaf] = leaf
			if x.Count != "" {
				b[x.Count] = len(leaves)
			}
			out = append(out, b)
		}
	}
	return out
}

// bind checks mandatory keys against the source-provided values and then
// fills declared inputs that are absent or empty with their defaults.
func (rs *RuleSet) bind(candidate Binding) (Binding, error) {
	for _, key := range rs.Required {
		if isEmpty(candidate[key]) {
			return nil, fmt.Errorf("%w: rule set %s needs %q", ErrMissingRequired, rs.Key, key)
		}
	}

	for key, def := range rs.Input {
		if isEmpty(candidate[key]) {
			candidate[key] = def
		}
	}
	return candidate, nil
}
