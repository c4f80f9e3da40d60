package rules

import "errors"

var (
	// ErrMissingVariable is returned when a template references a variable the binding lacks
	ErrMissingVariable = errors.New("missing template variable")
	// ErrMissingRequired is returned when a candidate binding lacks a mandatory key
	ErrMissingRequired = errors.New("missing required variable")
	// ErrEmptyRequiredField is returned when an action payload lacks its designated field
	ErrEmptyRequiredField = errors.New("required action field is empty")
	// ErrDuplicateKey is returned when two rule sets in one workflow share a key
	ErrDuplicateKey = errors.New("duplicate rule set key")
	// ErrNoCaseReference is returned when an event carries no case link
	ErrNoCaseReference = errors.New("event has no case reference")
)
