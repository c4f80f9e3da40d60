package main

import (
	"encoding/json"
	"time"

	"github.com/mor/automatr/listener"
	"github.com/mor/automatr/rules"
)

// HealthResponse reports the worker status and every listener's state
type HealthResponse struct {
	Status    string           `json:"status" example:"healthy"`
	Version   string           `json:"version,omitempty" example:"3f2a9c1"`
	Listeners []ListenerStatus `json:"listeners"`
}

// ListenerStatus is the lifecycle stage of one workflow subscription
type ListenerStatus struct {
	Workflow string         `json:"workflow" example:"taken_aanmaken"`
	State    listener.State `json:"state" example:"consuming"`
}

// WorkflowResponse describes a loaded workflow
type WorkflowResponse struct {
	Name       string            `json:"name" example:"melding_afhandelen"`
	Title      string            `json:"title" example:"Melding afhandelen"`
	RoutingKey string            `json:"routingKey" example:"melding.*.taakopdrachten_veranderd"`
	Policy     rules.Policy      `json:"policy" example:"first_match"`
	Action     rules.ActionKind  `json:"action" example:"resolve"`
	RuleSets   []RuleSetResponse `json:"ruleSets"`
}

// RuleSetResponse summarizes a rule set within a workflow
type RuleSetResponse struct {
	Key    string `json:"key" example:"taak_aantal_1_met_specifiek_taaktype_en_signalen_anoniem"`
	Title  string `json:"title"`
	Active bool   `json:"active" example:"true"`
	Rules  int    `json:"rules" example:"3"`
}

// WorkflowsListResponse is the response for listing workflows
type WorkflowsListResponse struct {
	Workflows []WorkflowResponse `json:"workflows"`
}

// EvaluateRequest asks for a dry run of one workflow against one case
type EvaluateRequest struct {
	Workflow   string `json:"workflow" example:"melding_afhandelen" binding:"required"`
	MeldingURL string `json:"melding_url" example:"http://core.mor.local:8002/api/v1/melding/6f1c/" binding:"required"`
}

// EvaluateResponse is the decision trace of a dry run
type EvaluateResponse struct {
	Workflow    string             `json:"workflow"`
	MeldingURL  string             `json:"melding_url"`
	Matched     bool               `json:"matched"`
	Evaluations []rules.Evaluation `json:"evaluations"`
}

// PutSettingRequest is the body for storing a rule set's variables
type PutSettingRequest struct {
	Name      string          `json:"name" example:"Havenbedrijf Rotterdam"`
	Variables json.RawMessage `json:"variables" binding:"required"`
}

// SettingResponse is one settings entry
type SettingResponse struct {
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	Variables json.RawMessage `json:"variables"`
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

// SettingsListResponse is the response for listing settings entries
type SettingsListResponse struct {
	Settings []SettingResponse `json:"settings"`
}
