package rules

import (
	"context"
	"log/slog"
)

// firstMatch walks active rule sets and their bindings in order. Every attempt
// gets an audit note; the first binding whose predicates all pass triggers the
// action and ends evaluation for the event.
func (e *Engine) firstMatch(ctx context.Context, log *slog.Logger, active []*RuleSet, sources map[string]any, melding map[string]any, caseID string, act bool) ([]Evaluation, bool) {
	var trace []Evaluation

	for _, rs := range active {
		for _, g := range e.expand(log, rs, sources) {
			for _, b := range g.Bindings {
				ev := Evaluation{RuleSet: rs.Key, Group: g.Index, Binding: b}

				results, err := EvaluateBinding(e.matcher, rs, b, melding, log)
				if err != nil {
					ev.Error = err.Error()
					trace = append(trace, ev)
					log.Warn("skipping binding", "rule_set", rs.Key, "error", err)
					continue
				}
				ev.Results = results
				ev.Matched = AllPassed(results)
				trace = append(trace, ev)
				log.Info("rule set evaluated", "rule_set", rs.Key, "matched", ev.Matched)

				if act {
					note := FormatNote(e.wf.Title, rs.Title, ev.Matched, results)
					e.audit.Emit(ctx, e.wf.Name, caseID, note)
					if ev.Matched {
						e.act(ctx, log, rs, []Binding{b}, caseID, melding, note)
					}
				}
				if ev.Matched {
					return trace, true
				}
			}
		}
	}
	return trace, false
}

// aggregate evaluates every leaf binding of every group. A group is satisfied
// when it has bindings, none of its candidates were rejected and every leaf
// passes; satisfied groups issue their actions independently.
func (e *Engine) aggregate(ctx context.Context, log *slog.Logger, active []*RuleSet, sources map[string]any, melding map[string]any, caseID string, act bool) ([]Evaluation, bool) {
	var trace []Evaluation
	anySatisfied := false

	for _, rs := range active {
		for _, g := range e.expand(log, rs, sources) {
			if len(g.Bindings) == 0 {
				log.Info("group has no bindings", "rule_set", rs.Key, "group", g.Index)
				continue
			}

			satisfied := len(g.Rejected) == 0
			var collected []indexedResult
			for _, b := range g.Bindings {
				ev := Evaluation{RuleSet: rs.Key, Group: g.Index, Binding: b}

				results, err := EvaluateBinding(e.matcher, rs, b, melding, log)
				if err != nil {
					satisfied = false
					ev.Error = err.Error()
					trace = append(trace, ev)
					log.Warn("skipping binding", "rule_set", rs.Key, "group", g.Index, "error", err)
					continue
				}
				ev.Results = results
				ev.Matched = AllPassed(results)
				if !ev.Matched {
					satisfied = false
				}
				for i, r := range results {
					collected = append(collected, indexedResult{rule: i, PredicateResult: r})
				}
				trace = append(trace, ev)
			}

			log.Info("group evaluated", "rule_set", rs.Key, "group", g.Index,
				"bindings", len(g.Bindings), "satisfied", satisfied)
			if satisfied {
				anySatisfied = true
			}
			if !act {
				continue
			}

			note := FormatNote(e.wf.Title, rs.Title, satisfied, normalizeResults(collected))
			e.audit.Emit(ctx, e.wf.Name, caseID, note)
			if satisfied {
				e.act(ctx, log, rs, g.Bindings, caseID, melding, note)
			}
		}
	}
	return trace, anySatisfied
}
