package rules

import "time"

// Outcome labels shared by the engine and its metrics
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no_match"
	OutcomeError   = "error"
)

// Recorder receives engine activity, typically backed by Prometheus
type Recorder interface {
	EventProcessed(workflow, outcome string, d time.Duration)
	ActionIssued(workflow string, action ActionKind, outcome string)
	AuditNote(workflow, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) EventProcessed(string, string, time.Duration) {}
func (nopRecorder) ActionIssued(string, ActionKind, string)      {}
func (nopRecorder) AuditNote(string, string)                     {}
