package services

import (
	"testing"

	"qa-engine-jira/internal/models"

	"github.com/stretchr/testify/assert"
)

func proposedYes() models.AutomationDecision {
	return models.AutomationDecision{
		ShouldCreateAutomationTask: true,
		Confidence:                 0.9,
		Reason:                     "Deterministic role-based access checks are ideal automation targets.",
		RecommendedCoverage:        models.CoverageFullAutomation,
	}
}

func inputWithCriteria(criteria string) *models.ValidatedInput {
	request := validRequest()
	request.AcceptanceCriteria = criteria
	return &models.ValidatedInput{Request: request}
}

func TestDecideKeepsStableTicket(t *testing.T) {
	engine := NewDecisionEngine()
	input := inputWithCriteria("Admin users can access /admin/billing. Standard users receive 403. " +
		"Session timeout is 15 minutes. Behavior is deterministic across browsers.")

	decision := engine.Decide(input, proposedYes())

	assert.True(t, decision.ShouldCreateAutomationTask)
	assert.Equal(t, models.CoverageFullAutomation, decision.RecommendedCoverage)
	assert.Equal(t, 0.9, decision.Confidence)
}

func TestDecideFloorsVolatileTickets(t *testing.T) {
	engine := NewDecisionEngine()

	tests := []struct {
		name     string
		criteria string
	}{
		{"ab cohort", "Hero headline varies by A/B cohort depending on experiment assignment."},
		{"cms content", "Page content is controlled by CMS and the content team updates it daily."},
		{"design iteration", "The design will iterate for 2 weeks before final sign-off."},
		{"subjective visual", "QA confirms the landing page looks good on all breakpoints."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Model says yes with full confidence; the engine must still refuse.
			decision := engine.Decide(inputWithCriteria(tt.criteria), proposedYes())

			assert.False(t, decision.ShouldCreateAutomationTask)
			assert.Equal(t, models.CoverageManualOnly, decision.RecommendedCoverage)
			assert.NotEmpty(t, decision.Reason)
		})
	}
}

func TestDecideIgnoresSlashPathsThatLookLikeAB(t *testing.T) {
	engine := NewDecisionEngine()

	tests := []struct {
		name     string
		criteria string
	}{
		{"data bulk path", "Users can export reports from the data/bulk endpoint within 5 seconds."},
		{"media browse path", "The media/browse page lists uploaded assets sorted by date."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := engine.Decide(inputWithCriteria(tt.criteria), proposedYes())

			assert.True(t, decision.ShouldCreateAutomationTask)
			assert.Equal(t, models.CoverageFullAutomation, decision.RecommendedCoverage)
		})
	}
}

func TestDecideVolatileReasonReferencesInstability(t *testing.T) {
	engine := NewDecisionEngine()
	input := inputWithCriteria("Hero headline varies by A/B cohort. Content controlled by CMS. Design will iterate for 2 weeks.")

	decision := engine.Decide(input, proposedYes())

	assert.False(t, decision.ShouldCreateAutomationTask)
	assert.Contains(t, decision.Reason, "unstable automation target")
}

func TestDecideClampsConfidence(t *testing.T) {
	engine := NewDecisionEngine()
	input := inputWithCriteria("Login returns a session cookie valid for 24 hours.")

	proposed := proposedYes()
	proposed.Confidence = 1.7
	decision := engine.Decide(input, proposed)
	assert.Equal(t, 1.0, decision.Confidence)

	proposed.Confidence = -0.3
	decision = engine.Decide(input, proposed)
	assert.Equal(t, 0.0, decision.Confidence)
}

func TestDecideFillsEmptyReason(t *testing.T) {
	engine := NewDecisionEngine()
	input := inputWithCriteria("Login returns a session cookie valid for 24 hours.")

	proposed := proposedYes()
	proposed.Reason = "   "
	decision := engine.Decide(input, proposed)

	assert.NotEmpty(t, decision.Reason)
	assert.NotEqual(t, "   ", decision.Reason)
}

func TestDecideManualOnlyNeverCreatesTask(t *testing.T) {
	engine := NewDecisionEngine()
	input := inputWithCriteria("Login returns a session cookie valid for 24 hours.")

	proposed := proposedYes()
	proposed.RecommendedCoverage = models.CoverageManualOnly
	decision := engine.Decide(input, proposed)

	assert.False(t, decision.ShouldCreateAutomationTask)
}
