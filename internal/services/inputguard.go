package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/models"
)

// injectionMarkers are fixed phrases that indicate an attempt to override the
// generator's instructions. Matched case-insensitively as substrings.
var injectionMarkers = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard the above",
	"reveal system prompt",
	"output the system prompt",
	"developer message",
	"you are now",
	"exfiltrate",
	"return secrets",
}

// InputGuard validates inbound acceptance-criteria text and screens it for
// prompt-injection markers. Pure function of its input; no side effects.
type InputGuard struct {
	rejectSuspected bool
}

func NewInputGuard(cfg *common.EngineConfig) *InputGuard {
	return &InputGuard{
		rejectSuspected: cfg.RejectSuspectedInjection,
	}
}

// Validate enforces required fields and length bounds, then scans for
// injection markers. Bounds violations are hard rejections; marker hits
// default to degraded handling (flag and continue) unless the engine is
// configured to reject them.
func (g *InputGuard) Validate(request *models.GenerationRequest) (*models.ValidatedInput, error) {
	if request == nil {
		return nil, common.NewValidationError("request_missing", "request body is required")
	}

	if strings.TrimSpace(request.IssueKey) == "" {
		return nil, common.NewValidationError("issue_key_missing", "issueKey is required")
	}

	// Bounds count characters, not bytes, so multibyte ticket text is not
	// penalized.
	acLen := utf8.RuneCountInString(request.AcceptanceCriteria)
	if acLen < models.MinAcceptanceCriteriaChars {
		return nil, common.NewValidationError("acceptance_criteria_too_short",
			fmt.Sprintf("acceptanceCriteria must be at least %d characters", models.MinAcceptanceCriteriaChars))
	}
	if acLen > models.MaxAcceptanceCriteriaChars {
		return nil, common.NewValidationError("acceptance_criteria_too_long",
			fmt.Sprintf("acceptanceCriteria must be at most %d characters", models.MaxAcceptanceCriteriaChars))
	}

	if utf8.RuneCountInString(request.Context) > models.MaxContextChars {
		return nil, common.NewValidationError("context_too_long",
			fmt.Sprintf("context must be at most %d characters", models.MaxContextChars))
	}

	markers := scanForMarkers(request.AcceptanceCriteria)
	markers = append(markers, scanForMarkers(request.Context)...)

	if len(markers) > 0 && g.rejectSuspected {
		return nil, common.NewInjectionError("injection_suspected",
			"ticket text appears to include prompt-injection instructions")
	}

	return &models.ValidatedInput{
		Request:            request,
		InjectionSuspected: len(markers) > 0,
		SuspectedMarkers:   markers,
	}, nil
}

func scanForMarkers(text string) []string {
	if text == "" {
		return nil
	}

	lowered := strings.ToLower(text)
	var found []string
	for _, marker := range injectionMarkers {
		if strings.Contains(lowered, marker) {
			found = append(found, marker)
		}
	}
	return found
}
