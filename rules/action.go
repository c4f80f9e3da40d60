package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Payload field names understood by the case-management system
const (
	FieldCaseID       = "uuid"
	FieldUser         = "gebruiker"
	FieldInternalNote = "omschrijving_intern"
	FieldExternalNote = "omschrijving_extern"
	FieldTaskType     = "taaktype"
	FieldTitle        = "titel"
	FieldDependencies = "afhankelijkheid"
)

// CaseActions issues side effects against the case-management system
type CaseActions interface {
	NoteWriter
	ResolveCase(ctx context.Context, caseID string, fields map[string]any) error
	CreateSubtask(ctx context.Context, caseID string, fields map[string]any) error
	// LookupTaskType returns nil without error when no task type matches
	LookupTaskType(ctx context.Context, ref string) (*TaskType, error)
}

// BuildPayload overlays the rendered data templates on a copy of the baseline.
// Fields rendering to the empty string are dropped so baseline values survive.
func BuildPayload(baseline map[string]any, data map[string]string, b Binding) (map[string]any, error) {
	payload := make(map[string]any, len(baseline)+len(data))
	for k, v := range baseline {
		payload[k] = v
	}

	for field, tmpl := range data {
		value, err := Render(tmpl, b)
		if err != nil {
			return nil, fmt.Errorf("data field %s: %w", field, err)
		}
		if value == "" {
			continue
		}
		payload[field] = value
	}
	return payload, nil
}

// RequireField fails when the designated field is absent or empty
func RequireField(payload map[string]any, field string) error {
	if field == "" {
		return nil
	}
	if isEmpty(payload[field]) {
		return fmt.Errorf("%w: %s", ErrEmptyRequiredField, field)
	}
	return nil
}

func (e *Engine) baseline(caseID string) map[string]any {
	base := map[string]any{
		FieldCaseID: caseID,
		FieldUser:   e.settings.BotUser,
	}
	for k, v := range e.wf.Defaults {
		base[k] = v
	}
	return base
}

func (e *Engine) act(ctx context.Context, log *slog.Logger, rs *RuleSet, bindings []Binding, caseID string, melding map[string]any, note string) {
	switch e.wf.Action {
	case ActionResolve:
		e.resolve(ctx, log, rs, bindings[0], caseID, note)
	case ActionCreateSubtask:
		e.createSubtasks(ctx, log, rs, bindings, caseID, melding)
	default:
		log.Warn("unknown action, nothing issued", "action", e.wf.Action)
	}
}

func (e *Engine) resolve(ctx context.Context, log *slog.Logger, rs *RuleSet, b Binding, caseID, note string) {
	base := e.baseline(caseID)
	base[FieldInternalNote] = ""
	if !e.settings.Production {
		base[FieldInternalNote] = note
	}

	payload, err := BuildPayload(base, rs.Data, b)
	if err != nil {
		e.recorder.ActionIssued(e.wf.Name, ActionResolve, OutcomeSkipped)
		log.Warn("cannot render resolve payload", "rule_set", rs.Key, "error", err)
		return
	}
	if err := RequireField(payload, e.wf.RequiredField); err != nil {
		e.recorder.ActionIssued(e.wf.Name, ActionResolve, OutcomeSkipped)
		log.Warn("not resolving case", "rule_set", rs.Key, "error", err)
		return
	}

	log.Info("resolving case", "rule_set", rs.Key, "payload", payload)
	if err := e.actions.ResolveCase(ctx, caseID, payload); err != nil {
		e.recorder.ActionIssued(e.wf.Name, ActionResolve, OutcomeFailed)
		log.Error("case was not resolved", "rule_set", rs.Key, "error", err)
		return
	}
	e.recorder.ActionIssued(e.wf.Name, ActionResolve, OutcomeOK)
	log.Info("case resolved", "rule_set", rs.Key)
}

// createSubtasks issues one sub-task per distinct rendered payload among the
// group's bindings. Task types the case already has are not created again.
func (e *Engine) createSubtasks(ctx context.Context, log *slog.Logger, rs *RuleSet, bindings []Binding, caseID string, melding map[string]any) {
	seen := make(map[string]bool, len(bindings))
	existing := subtaskTypes(melding)

	for _, b := range bindings {
		base := e.baseline(caseID)
		base[FieldDependencies] = []any{}

		payload, err := BuildPayload(base, rs.Data, b)
		if err != nil {
			e.recorder.ActionIssued(e.wf.Name, ActionCreateSubtask, OutcomeSkipped)
			log.Warn("cannot render sub-task payload", "rule_set", rs.Key, "error", err)
			continue
		}

		key, err := json.Marshal(payload)
		if err == nil {
			if seen[string(key)] {
				continue
			}
			seen[string(key)] = true
		}

		if err := RequireField(payload, e.wf.RequiredField); err != nil {
			e.recorder.ActionIssued(e.wf.Name, ActionCreateSubtask, OutcomeSkipped)
			log.Warn("not creating sub-task", "rule_set", rs.Key, "error", err)
			continue
		}

		ref := FormatValue(payload[FieldTaskType])
		if ref != "" {
			if existing[ref] {
				e.recorder.ActionIssued(e.wf.Name, ActionCreateSubtask, OutcomeSkipped)
				log.Info("case already has a sub-task of this type", "rule_set", rs.Key, "taaktype", ref)
				continue
			}

			tt, err := e.actions.LookupTaskType(ctx, ref)
			if err != nil {
				e.recorder.ActionIssued(e.wf.Name, ActionCreateSubtask, OutcomeSkipped)
				log.Warn("task type lookup failed", "rule_set", rs.Key, "taaktype", ref, "error", err)
				continue
			}
			if tt == nil {
				e.recorder.ActionIssued(e.wf.Name, ActionCreateSubtask, OutcomeSkipped)
				log.Warn("unknown task type", "rule_set", rs.Key, "taaktype", ref)
				continue
			}
			if isEmpty(payload[FieldTitle]) {
				payload[FieldTitle] = tt.Title
			}
		}

		log.Info("creating sub-task", "rule_set", rs.Key, "payload", payload)
		if err := e.actions.CreateSubtask(ctx, caseID, payload); err != nil {
			e.recorder.ActionIssued(e.wf.Name, ActionCreateSubtask, OutcomeFailed)
			log.Error("sub-task was not created", "rule_set", rs.Key, "error", err)
			continue
		}
		if ref != "" {
			existing[ref] = true
		}
		e.recorder.ActionIssued(e.wf.Name, ActionCreateSubtask, OutcomeOK)
		log.Info("sub-task created", "rule_set", rs.Key, "taaktype", ref)
	}
}

// subtaskTypes collects the task types of the case's non-deleted sub-tasks
func subtaskTypes(melding map[string]any) map[string]bool {
	types := map[string]bool{}
	tasks, _ := melding["taakopdrachten_voor_melding"].([]any)
	for _, t := range tasks {
		task, ok := t.(map[string]any)
		if !ok || !isEmpty(task["verwijderd_op"]) {
			continue
		}
		if ref := FormatValue(task[FieldTaskType]); ref != "" {
			types[ref] = true
		}
	}
	return types
}
