package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Settings carries the process-wide values the engine needs
type Settings struct {
	Production bool
	BotUser    string
}

// CaseFetcher retrieves the case document behind a reference
type CaseFetcher interface {
	FetchCase(ctx context.Context, ref string) (map[string]any, error)
}

// Options configures an Engine
type Options struct {
	Settings  Settings
	Fetcher   CaseFetcher
	Actions   CaseActions
	Matcher   Matcher
	Variables *VariableResolver
	Recorder  Recorder
	Logger    *slog.Logger
}

// Engine evaluates one workflow against incoming events
type Engine struct {
	wf        *Workflow
	settings  Settings
	fetcher   CaseFetcher
	actions   CaseActions
	matcher   Matcher
	variables *VariableResolver
	audit     *AuditEmitter
	recorder  Recorder
	logger    *slog.Logger
}

// NewEngine creates an engine for the given workflow
func NewEngine(wf *Workflow, opts Options) (*Engine, error) {
	if wf == nil {
		return nil, errors.New("workflow is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("case fetcher is required")
	}
	if opts.Actions == nil {
		return nil, errors.New("case actions are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("workflow", wf.Name)

	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	matcher := opts.Matcher
	if matcher == nil {
		m, err := NewCELMatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create matcher: %w", err)
		}
		matcher = m
	}

	variables := opts.Variables
	if variables == nil {
		variables = NewEmbeddedResolver(nil, logger)
	}

	return &Engine{
		wf:        wf,
		settings:  opts.Settings,
		fetcher:   opts.Fetcher,
		actions:   opts.Actions,
		matcher:   matcher,
		variables: variables,
		audit:     NewAuditEmitter(opts.Actions, opts.Settings, recorder, logger),
		recorder:  recorder,
		logger:    logger,
	}, nil
}

// Workflow returns the workflow this engine evaluates
func (e *Engine) Workflow() *Workflow {
	return e.wf
}

// Handle processes one event: fetch the case, evaluate the rule sets and issue
// the resulting actions. A panic anywhere below is recovered and logged so the
// caller can move on to the next event.
func (e *Engine) Handle(ctx context.Context, ev Event) (err error) {
	start := time.Now()
	outcome := OutcomeNoMatch
	log := e.logger.With("event_id", ev.ID, "melding_url", ev.CaseURL)

	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeError
			err = fmt.Errorf("panic while handling event: %v", r)
			log.Error("unexpected failure while handling event",
				"panic", r, "stack", string(debug.Stack()))
		}
		e.recorder.EventProcessed(e.wf.Name, outcome, time.Since(start))
	}()

	if ev.CaseURL == "" {
		outcome = OutcomeSkipped
		log.Warn("event carries no case reference")
		return ErrNoCaseReference
	}

	melding, caseID, err := e.fetch(ctx, ev.CaseURL)
	if err != nil {
		outcome = OutcomeError
		log.Error("could not load case", "error", err)
		return err
	}
	log = log.With("melding", caseID)

	_, matched := e.run(ctx, log, melding, caseID, true)
	if matched {
		outcome = OutcomeMatched
	}
	return nil
}

// Evaluate runs the workflow against a case without issuing actions or notes
func (e *Engine) Evaluate(ctx context.Context, caseURL string) ([]Evaluation, error) {
	if caseURL == "" {
		return nil, ErrNoCaseReference
	}
	melding, caseID, err := e.fetch(ctx, caseURL)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("melding", caseID, "dry_run", true)

	trace, _ := e.run(ctx, log, melding, caseID, false)
	return trace, nil
}

func (e *Engine) fetch(ctx context.Context, ref string) (map[string]any, string, error) {
	melding, err := e.fetcher.FetchCase(ctx, ref)
	if err != nil {
		return nil, "", fmt.Errorf("fetch case: %w", err)
	}
	caseID := FormatValue(melding[FieldCaseID])
	if caseID == "" {
		return nil, "", fmt.Errorf("fetch case: document at %s has no %s", ref, FieldCaseID)
	}
	return melding, caseID, nil
}

func (e *Engine) run(ctx context.Context, log *slog.Logger, melding map[string]any, caseID string, act bool) ([]Evaluation, bool) {
	active := e.wf.ActiveRuleSets()
	log.Info("evaluating rule sets", "active", len(active), "total", len(e.wf.RuleSets))

	sources := e.variables.Resolve(ctx, e.wf)
	if e.wf.Policy == PolicyAggregate {
		return e.aggregate(ctx, log, active, sources, melding, caseID, act)
	}
	return e.firstMatch(ctx, log, active, sources, melding, caseID, act)
}

func (e *Engine) expand(log *slog.Logger, rs *RuleSet, sources map[string]any) []Group {
	groups := rs.Expand(sources[rs.Key])
	for _, g := range groups {
		for _, err := range g.Rejected {
			log.Warn("binding rejected", "rule_set", rs.Key, "group", g.Index, "error", err)
		}
	}
	return groups
}
