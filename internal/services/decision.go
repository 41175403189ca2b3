package services

import (
	"fmt"
	"strings"

	"qa-engine-jira/internal/models"
)

// volatilitySignals mark acceptance criteria that are inherently unstable
// automation targets. Each signal is a named class with indicator phrases,
// matched case-insensitively against the ticket text.
var volatilitySignals = []struct {
	name       string
	indicators []string
}{
	{
		name: "content-managed UI",
		indicators: []string{
			"cms", "content-managed", "content managed", "controlled by cms",
			"copy may change", "content team",
		},
	},
	{
		// "a/b" alone would match innocent slash paths like "data/bulk".
		name: "A/B experimentation",
		indicators: []string{
			"a/b test", "a/b cohort", "a/b experiment", "ab test",
			"experiment cohort", "varies by cohort",
		},
	},
	{
		name: "time-boxed design iteration",
		indicators: []string{
			"design will iterate", "design is iterating", "time-boxed", "timeboxed",
			"will change weekly", "iterate for",
		},
	},
	{
		name: "subjective visual review",
		indicators: []string{
			"looks good", "visually appealing", "pixel-perfect", "design review",
			"subjective", "visual polish", "feels right",
		},
	},
}

// DecisionEngine refines the model-proposed automation decision. The model
// assists; the engine is the final arbiter for known-unstable ticket classes.
type DecisionEngine struct{}

func NewDecisionEngine() *DecisionEngine {
	return &DecisionEngine{}
}

// Decide applies the deterministic floor: volatility signals in the ticket
// text force shouldCreateAutomationTask=false regardless of model confidence.
// Otherwise the model's decision is returned with confidence clamped into
// [0,1] and a guaranteed non-empty reason.
func (e *DecisionEngine) Decide(input *models.ValidatedInput, proposed models.AutomationDecision) models.AutomationDecision {
	text := strings.ToLower(input.Request.AcceptanceCriteria + "\n" + input.Request.Context)

	if signal := detectVolatility(text); signal != "" {
		return models.AutomationDecision{
			ShouldCreateAutomationTask: false,
			Confidence:                 1.0,
			Reason: fmt.Sprintf("Acceptance criteria exhibit %s, an unstable automation target. %s",
				signal, strings.TrimSpace(proposed.Reason)),
			RecommendedCoverage: models.CoverageManualOnly,
		}
	}

	decision := proposed

	if decision.Confidence < 0 {
		decision.Confidence = 0
	}
	if decision.Confidence > 1 {
		decision.Confidence = 1
	}

	if strings.TrimSpace(decision.Reason) == "" {
		decision.Reason = "No reason supplied by the model."
	}

	// manual_only can never carry a task-creation recommendation.
	if decision.RecommendedCoverage == models.CoverageManualOnly {
		decision.ShouldCreateAutomationTask = false
	}

	return decision
}

func detectVolatility(loweredText string) string {
	for _, signal := range volatilitySignals {
		for _, indicator := range signal.indicators {
			if strings.Contains(loweredText, indicator) {
				return signal.name
			}
		}
	}
	return ""
}
