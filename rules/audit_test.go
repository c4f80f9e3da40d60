package rules

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFormatNote(t *testing.T) {
	results := []PredicateResult{
		{Description: "status is controle", Passed: true},
		{Description: "geen open taken", Passed: false},
	}

	got := FormatNote("Melding afhandelen", "Controle", false, results)
	want := "Melding afhandelen (Controle): voorwaarden niet vervuld. status is controle Ja, geen open taken Nee"
	if got != want {
		t.Errorf("FormatNote() = %q, want %q", got, want)
	}

	matched := FormatNote("Melding afhandelen", "", true, results[:1])
	if !strings.HasPrefix(matched, "Melding afhandelen: voorwaarden vervuld.") {
		t.Errorf("FormatNote() = %q", matched)
	}
}

func TestFormatNoteMarkerCountMatchesResults(t *testing.T) {
	results := []PredicateResult{
		{Description: "a", Passed: true},
		{Description: "b", Passed: true},
		{Description: "c", Passed: false},
	}

	note := FormatNote("Wf", "Rs", false, results)
	markers := strings.Count(note, " "+MarkerPassed) + strings.Count(note, " "+MarkerFailed)
	if markers != len(results) {
		t.Errorf("note %q has %d markers, want %d", note, markers, len(results))
	}
}

func TestNormalizeResults(t *testing.T) {
	in := []indexedResult{
		{rule: 1, PredicateResult: PredicateResult{Description: "antwoord b", Passed: true}},
		{rule: 0, PredicateResult: PredicateResult{Description: "vraag", Passed: true}},
		{rule: 1, PredicateResult: PredicateResult{Description: "antwoord a", Passed: false}},
		{rule: 0, PredicateResult: PredicateResult{Description: "vraag", Passed: true}},
	}

	got := normalizeResults(in)
	want := []PredicateResult{
		{Description: "vraag", Passed: true},
		{Description: "antwoord a", Passed: false},
		{Description: "antwoord b", Passed: true},
	}
	if len(got) != len(want) {
		t.Fatalf("normalizeResults() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

type noteRecorder struct {
	notes []string
	users []string
	err   error
}

func (n *noteRecorder) AddNote(_ context.Context, _, note, user string) error {
	if n.err != nil {
		return n.err
	}
	n.notes = append(n.notes, note)
	n.users = append(n.users, user)
	return nil
}

func TestAuditEmitterSuppressedInProduction(t *testing.T) {
	w := &noteRecorder{}
	a := NewAuditEmitter(w, Settings{Production: true, BotUser: "bot"}, nil, nil)

	a.Emit(context.Background(), "wf", "c-1", "note")
	if a.Enabled() || len(w.notes) != 0 {
		t.Errorf("production must not post notes, got %v", w.notes)
	}
}

func TestAuditEmitterPostsAsBotUser(t *testing.T) {
	w := &noteRecorder{}
	a := NewAuditEmitter(w, Settings{BotUser: "bot@example.org"}, nil, nil)

	a.Emit(context.Background(), "wf", "c-1", "note")
	if len(w.notes) != 1 || w.users[0] != "bot@example.org" {
		t.Errorf("unexpected notes %v users %v", w.notes, w.users)
	}
}

func TestAuditEmitterFailureIsLogged(t *testing.T) {
	logger, buf := bufferLogger()
	w := &noteRecorder{err: errors.New("503")}
	a := NewAuditEmitter(w, Settings{}, nil, logger)

	a.Emit(context.Background(), "wf", "c-1", "note")
	if !strings.Contains(buf.String(), "failed to post audit note") {
		t.Errorf("expected a warning, log was: %s", buf.String())
	}
}
