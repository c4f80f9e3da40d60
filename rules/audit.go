package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Pass/fail markers appended to every rendered description in an audit note
const (
	MarkerPassed = "Ja"
	MarkerFailed = "Nee"
)

// NoteWriter posts an internal note on a case timeline
type NoteWriter interface {
	AddNote(ctx context.Context, caseID, note, user string) error
}

// FormatNote renders the audit text for one evaluation attempt
func FormatNote(workflowTitle, ruleSetTitle string, matched bool, results []PredicateResult) string {
	verdict := "voorwaarden niet vervuld"
	if matched {
		verdict = "voorwaarden vervuld"
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		marker := MarkerFailed
		if r.Passed {
			marker = MarkerPassed
		}
		parts = append(parts, r.Description+" "+marker)
	}

	header := workflowTitle
	if ruleSetTitle != "" {
		header = fmt.Sprintf("%s (%s)", workflowTitle, ruleSetTitle)
	}
	return fmt.Sprintf("%s: %s. %s", header, verdict, strings.Join(parts, ", "))
}

type indexedResult struct {
	rule int
	PredicateResult
}

// normalizeResults drops duplicate description/outcome pairs collected across
// the leaves of a group and orders the rest by rule position, then description.
func normalizeResults(in []indexedResult) []PredicateResult {
	seen := make(map[PredicateResult]bool, len(in))
	unique := make([]indexedResult, 0, len(in))
	for _, r := range in {
		if seen[r.PredicateResult] {
			continue
		}
		seen[r.PredicateResult] = true
		unique = append(unique, r)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].rule != unique[j].rule {
			return unique[i].rule < unique[j].rule
		}
		return unique[i].Description < unique[j].Description
	})

	out := make([]PredicateResult, len(unique))
	for i, r := range unique {
		out[i] = r.PredicateResult
	}
	return out
}

// AuditEmitter posts audit notes outside production
type AuditEmitter struct {
	writer     NoteWriter
	production bool
	user       string
	recorder   Recorder
	logger     *slog.Logger
}

// NewAuditEmitter creates an emitter; in production every note is suppressed
func NewAuditEmitter(writer NoteWriter, s Settings, recorder Recorder, logger *slog.Logger) *AuditEmitter {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditEmitter{
		writer:     writer,
		production: s.Production,
		user:       s.BotUser,
		recorder:   recorder,
		logger:     logger,
	}
}

// Enabled reports whether notes are posted at all
func (a *AuditEmitter) Enabled() bool {
	return !a.production && a.writer != nil
}

// Emit posts the note. Failures are logged and never returned.
func (a *AuditEmitter) Emit(ctx context.Context, workflow, caseID, note string) {
	if !a.Enabled() {
		return
	}

	if err := a.writer.AddNote(ctx, caseID, note, a.user); err != nil {
		a.recorder.AuditNote(workflow, OutcomeFailed)
		a.logger.Warn("failed to post audit note",
			"workflow", workflow, "case", caseID, "error", err)
		return
	}
	a.recorder.AuditNote(workflow, OutcomeOK)
}
