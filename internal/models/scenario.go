package models

// Step is a single action within a manual test scenario.
type Step struct {
	Action string                 `json:"action"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// TestScenario is one human-readable manual test case. Immutable after
// generation.
type TestScenario struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority"` // P1|P2|P3
	Type     string `json:"type"`     // e2e|api|component
	Steps    []Step `json:"steps"`
}

// ScenarioSet is the structured output of the first generation call.
type ScenarioSet struct {
	Tags      []string       `json:"tags"`
	Scenarios []TestScenario `json:"scenarios"`
	Notes     string         `json:"notes"`
}

// Prompt is a fully composed model prompt. The untrusted ticket text lives
// only between the delimiter markers; the instruction and schema zones never
// contain caller-supplied content.
type Prompt struct {
	TaskKind string `json:"taskKind"` // scenarios | decision_and_skeleton
	Text     string `json:"text"`
}
