package models

import "encoding/json"

// Input bounds enforced before any external call is made.
const (
	MinAcceptanceCriteriaChars = 10
	MaxAcceptanceCriteriaChars = 10000
	MaxContextChars            = 8000
	MaxFileContentChars        = 200000
)

// DefaultAutomationSummaryPrefix is used when the request does not override it.
const DefaultAutomationSummaryPrefix = "Automation: Implement generated Playwright tests"

// GenerationRequest is the inbound trigger for the QA flow. Optional boolean
// flags default to true; automationIssueType defaults to Task.
type GenerationRequest struct {
	IssueKey                string `json:"issueKey"`
	AcceptanceCriteria      string `json:"acceptanceCriteria"`
	Context                 string `json:"context,omitempty"`
	BaseURL                 string `json:"baseUrl,omitempty"`
	CommentOnJira           bool   `json:"commentOnJira"`
	WritePlaywrightFiles    bool   `json:"writePlaywrightFiles"`
	CreateAutomationTask    bool   `json:"createAutomationTask"`
	AutomationIssueType     string `json:"automationIssueType"`
	AutomationSummaryPrefix string `json:"automationSummaryPrefix"`
}

// UnmarshalJSON accepts both camelCase and snake_case spellings for the text
// fields and applies the documented defaults for absent optional flags.
func (r *GenerationRequest) UnmarshalJSON(data []byte) error {
	type wire struct {
		IssueKey                string `json:"issueKey"`
		AcceptanceCriteria      string `json:"acceptanceCriteria"`
		AcceptanceCriteriaSnake string `json:"acceptance_criteria"`
		Context                 string `json:"context"`
		BaseURL                 string `json:"baseUrl"`
		BaseURLSnake            string `json:"base_url"`
		CommentOnJira           *bool  `json:"commentOnJira"`
		WritePlaywrightFiles    *bool  `json:"writePlaywrightFiles"`
		CreateAutomationTask    *bool  `json:"createAutomationTask"`
		AutomationIssueType     string `json:"automationIssueType"`
		AutomationSummaryPrefix string `json:"automationSummaryPrefix"`
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	r.IssueKey = w.IssueKey
	r.AcceptanceCriteria = w.AcceptanceCriteria
	if r.AcceptanceCriteria == "" {
		r.AcceptanceCriteria = w.AcceptanceCriteriaSnake
	}
	r.Context = w.Context
	r.BaseURL = w.BaseURL
	if r.BaseURL == "" {
		r.BaseURL = w.BaseURLSnake
	}

	r.CommentOnJira = w.CommentOnJira == nil || *w.CommentOnJira
	r.WritePlaywrightFiles = w.WritePlaywrightFiles == nil || *w.WritePlaywrightFiles
	r.CreateAutomationTask = w.CreateAutomationTask == nil || *w.CreateAutomationTask

	r.AutomationIssueType = w.AutomationIssueType
	if r.AutomationIssueType == "" {
		r.AutomationIssueType = "Task"
	}
	r.AutomationSummaryPrefix = w.AutomationSummaryPrefix
	if r.AutomationSummaryPrefix == "" {
		r.AutomationSummaryPrefix = DefaultAutomationSummaryPrefix
	}

	return nil
}

// ValidatedInput is the InputGuard's output: the request plus the untrusted
// flag set when injection markers were found in the ticket text.
type ValidatedInput struct {
	Request            *GenerationRequest
	InjectionSuspected bool
	SuspectedMarkers   []string
}
