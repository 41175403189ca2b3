package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/interfaces"
	"qa-engine-jira/internal/models"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// Pipeline job event types published to the event sink.
const (
	EventJobStarted   = "job_started"
	EventJobStage     = "job_stage"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
)

// pipeline sequences the full QA flow: input screening, two generation calls,
// the decision floor, sandboxed file emission and tracker write-back. One
// in-flight run per issue key; duplicates are rejected, never queued.
type pipeline struct {
	guard     *InputGuard
	prompts   *PromptBuilder
	generator interfaces.Generator
	engine    *DecisionEngine
	writer    interfaces.FileWriter
	tracker   interfaces.Tracker
	store     interfaces.OutcomeStore
	events    interfaces.EventSink
	logger    arbor.ILogger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewPipeline wires the orchestration pipeline. Tracker, store and events may
// be nil; the affected stages then degrade with warnings instead of failing.
func NewPipeline(
	guard *InputGuard,
	prompts *PromptBuilder,
	generator interfaces.Generator,
	engine *DecisionEngine,
	writer interfaces.FileWriter,
	tracker interfaces.Tracker,
	store interfaces.OutcomeStore,
	events interfaces.EventSink,
	logger arbor.ILogger,
) interfaces.Pipeline {
	return &pipeline{
		guard:     guard,
		prompts:   prompts,
		generator: generator,
		engine:    engine,
		writer:    writer,
		tracker:   tracker,
		store:     store,
		events:    events,
		logger:    logger,
		inFlight:  make(map[string]struct{}),
	}
}

// acquire marks an issue key as in flight. Returns false when a run for the
// same key is already active.
func (p *pipeline) acquire(issueKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, active := p.inFlight[issueKey]; active {
		return false
	}
	p.inFlight[issueKey] = struct{}{}
	return true
}

func (p *pipeline) release(issueKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, issueKey)
}

// GenerateScenarios runs only the first generation call. No side effects.
func (p *pipeline) GenerateScenarios(ctx context.Context, request *models.GenerationRequest) (*models.ScenarioSet, error) {
	input, err := p.guard.Validate(request)
	if err != nil {
		return nil, err
	}

	prompt := p.prompts.BuildScenariosPrompt(input)
	return p.generator.GenerateScenarios(ctx, prompt)
}

// GenerateSkeletons runs both generation calls and the decision floor without
// touching the tracker or the filesystem.
func (p *pipeline) GenerateSkeletons(ctx context.Context, request *models.GenerationRequest) (*models.ScenarioSet, *models.AutomationDecision, []models.SkeletonSpec, error) {
	input, err := p.guard.Validate(request)
	if err != nil {
		return nil, nil, nil, err
	}

	scenarios, bundle, decision, err := p.generateAll(ctx, input)
	if err != nil {
		return nil, nil, nil, err
	}
	return scenarios, decision, bundle.Skeletons, nil
}

// RunFullFlow executes the complete pipeline synchronously.
func (p *pipeline) RunFullFlow(ctx context.Context, request *models.GenerationRequest) (*models.JobOutcome, error) {
	input, err := p.guard.Validate(request)
	if err != nil {
		return nil, err
	}

	if !p.acquire(request.IssueKey) {
		return nil, common.NewConflictError("already_in_progress",
			fmt.Sprintf("a QA flow for %s is already in progress", request.IssueKey))
	}
	defer p.release(request.IssueKey)

	return p.run(ctx, uuid.New().String(), input)
}

// StartFullFlow validates the request, takes the dedup slot and schedules the
// rest as background work. The background job deliberately ignores the
// caller's context: the tracker and filesystem results are the goal, not the
// HTTP response, so a disconnecting caller must not cancel them.
func (p *pipeline) StartFullFlow(request *models.GenerationRequest) (*models.JobHandle, error) {
	input, err := p.guard.Validate(request)
	if err != nil {
		return nil, err
	}

	if !p.acquire(request.IssueKey) {
		return nil, common.NewConflictError("already_in_progress",
			fmt.Sprintf("a QA flow for %s is already in progress", request.IssueKey))
	}

	handle := &models.JobHandle{
		JobID:      uuid.New().String(),
		IssueKey:   request.IssueKey,
		AcceptedAt: time.Now(),
	}

	go func() {
		defer p.release(request.IssueKey)

		outcome, runErr := p.run(context.Background(), handle.JobID, input)
		if runErr != nil {
			p.logger.Error().Err(runErr).
				Str("job_id", handle.JobID).
				Str("issue_key", request.IssueKey).
				Msg("Background QA flow failed")
			return
		}
		p.logger.Info().
			Str("job_id", handle.JobID).
			Str("issue_key", outcome.IssueKey).
			Int("warnings", len(outcome.Warnings)).
			Msg("Background QA flow finished")
	}()

	return handle, nil
}

// run executes the stages in order. The dedup slot is held by the caller.
// Failures after the generation stages degrade the outcome instead of
// discarding completed sub-results.
func (p *pipeline) run(ctx context.Context, jobID string, input *models.ValidatedInput) (*models.JobOutcome, error) {
	request := input.Request
	outcome := &models.JobOutcome{
		JobID:     jobID,
		IssueKey:  request.IssueKey,
		Status:    models.JobStatusRunning,
		StartedAt: time.Now(),
	}

	p.publish(EventJobStarted, map[string]interface{}{"jobId": jobID, "issueKey": request.IssueKey})

	if input.InjectionSuspected {
		outcome.AddWarning("prompt-injection markers detected; ticket text handled as data only")
		p.logger.Warn().
			Str("issue_key", request.IssueKey).
			Str("markers", strings.Join(input.SuspectedMarkers, ", ")).
			Msg("Injection markers found in ticket text")
	}

	// Generation stages. These are the only failures that abort the run:
	// without scenarios and a decision there is nothing to write anywhere.
	scenarios, bundle, decision, err := p.generateAll(ctx, input)
	if err != nil {
		return p.finish(outcome, err), err
	}
	outcome.Scenarios = scenarios
	outcome.Decision = decision
	outcome.Skeletons = bundle.Skeletons

	p.publish(EventJobStage, map[string]interface{}{
		"jobId": jobID, "stage": "generated",
		"scenarios": len(scenarios.Scenarios), "skeletons": len(bundle.Skeletons),
	})

	if request.CommentOnJira {
		p.postComment(ctx, outcome, models.CommentKindScenarios, formatScenariosComment(scenarios))
		p.postComment(ctx, outcome, models.CommentKindDecision, formatDecisionComment(decision))
	}

	if request.WritePlaywrightFiles && len(bundle.Skeletons) > 0 {
		written, writeErr := p.writer.WriteSkeletons(bundle.Skeletons)
		outcome.FilesWritten = written
		if writeErr != nil {
			outcome.AddWarning(fmt.Sprintf("skeleton files not written: %s", common.TypeOf(writeErr)))
			p.logger.Warn().Err(writeErr).
				Str("issue_key", request.IssueKey).
				Msg("Skeleton file emission failed")
		} else {
			p.publish(EventJobStage, map[string]interface{}{
				"jobId": jobID, "stage": "files_written", "count": len(written),
			})
		}
	}

	if request.CreateAutomationTask && decision.ShouldCreateAutomationTask {
		p.createTask(ctx, outcome, request, decision, bundle)
	}

	if request.CommentOnJira {
		p.postComment(ctx, outcome, models.CommentKindCompletion, formatCompletionComment(outcome))
	}

	finished := p.finish(outcome, nil)
	p.publish(EventJobCompleted, map[string]interface{}{
		"jobId": jobID, "issueKey": request.IssueKey, "warnings": len(finished.Warnings),
	})
	return finished, nil
}

// generateAll performs both generation calls and applies the decision floor.
func (p *pipeline) generateAll(ctx context.Context, input *models.ValidatedInput) (*models.ScenarioSet, *models.DecisionBundle, *models.AutomationDecision, error) {
	scenarioPrompt := p.prompts.BuildScenariosPrompt(input)
	scenarios, err := p.generator.GenerateScenarios(ctx, scenarioPrompt)
	if err != nil {
		return nil, nil, nil, err
	}

	scenarioJSON, err := json.Marshal(scenarios)
	if err != nil {
		return nil, nil, nil, common.WrapError(err, common.ErrorTypeInternal, "marshal_failed",
			"failed to encode scenarios for the decision prompt")
	}

	decisionPrompt := p.prompts.BuildDecisionPrompt(input, string(scenarioJSON))
	bundle, err := p.generator.GenerateDecision(ctx, decisionPrompt)
	if err != nil {
		return nil, nil, nil, err
	}

	decision := p.engine.Decide(input, bundle.Decision)
	return scenarios, bundle, &decision, nil
}

func (p *pipeline) postComment(ctx context.Context, outcome *models.JobOutcome, kind models.CommentKind, body string) {
	if p.tracker == nil {
		outcome.AddWarning(fmt.Sprintf("%s comment skipped: jira is not configured", kind))
		return
	}

	result, err := p.tracker.AddComment(ctx, outcome.IssueKey, body, kind)
	if result != nil {
		outcome.Comments = append(outcome.Comments, *result)
	}
	if err != nil {
		// A failed comment must not prevent the remaining stages.
		outcome.AddWarning(fmt.Sprintf("%s comment failed: %s", kind, common.TypeOf(err)))
		p.logger.Warn().Err(err).
			Str("issue_key", outcome.IssueKey).
			Str("kind", string(kind)).
			Msg("Tracker comment failed")
	}
}

func (p *pipeline) createTask(ctx context.Context, outcome *models.JobOutcome, request *models.GenerationRequest, decision *models.AutomationDecision, bundle *models.DecisionBundle) {
	if p.tracker == nil {
		outcome.AddWarning("automation task skipped: jira is not configured")
		return
	}

	summary := fmt.Sprintf("%s | %s", request.IssueKey, request.AutomationSummaryPrefix)
	description := formatTaskDescription(decision, bundle)

	record, err := p.tracker.CreateAutomationTask(ctx, request.IssueKey, summary, description, request.AutomationIssueType)
	if err != nil {
		outcome.AddWarning(fmt.Sprintf("automation task creation failed: %s", common.TypeOf(err)))
		p.logger.Warn().Err(err).
			Str("issue_key", request.IssueKey).
			Msg("Automation task creation failed")
		return
	}

	outcome.Task = record
	if record.FellBack {
		outcome.AddWarning(fmt.Sprintf("automation task type fell back from %s to Task", request.AutomationIssueType))
		if request.CommentOnJira {
			p.postComment(ctx, outcome, models.CommentKindFallback, formatFallbackComment(request.AutomationIssueType))
		}
	}

	p.publish(EventJobStage, map[string]interface{}{
		"jobId": outcome.JobID, "stage": "task_created", "taskKey": record.Key,
	})
}

// finish seals the outcome and writes it to the audit store. The outcome is
// write-once after this point.
func (p *pipeline) finish(outcome *models.JobOutcome, runErr error) *models.JobOutcome {
	outcome.FinishedAt = time.Now()
	if runErr != nil {
		outcome.Status = models.JobStatusFailed
		outcome.Error = string(common.TypeOf(runErr))
		p.publish(EventJobFailed, map[string]interface{}{
			"jobId": outcome.JobID, "issueKey": outcome.IssueKey, "error": outcome.Error,
		})
	} else {
		outcome.Status = models.JobStatusCompleted
	}

	if p.store != nil {
		if err := p.store.SaveOutcome(outcome); err != nil {
			p.logger.Warn().Err(err).
				Str("job_id", outcome.JobID).
				Msg("Failed to persist job outcome")
		}
	}

	return outcome
}

func (p *pipeline) publish(eventType string, data interface{}) {
	if p.events != nil {
		p.events.PublishJobEvent(eventType, data)
	}
}

// formatScenariosComment renders the scenario set as a plain-text comment
// body; ADF conversion happens in the tracker client.
func formatScenariosComment(scenarios *models.ScenarioSet) string {
	var lines []string
	lines = append(lines, "AI Generated Test Scenarios")

	for _, scenario := range scenarios.Scenarios {
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("%s - %s", scenario.ID, scenario.Title))
		lines = append(lines, fmt.Sprintf("Priority: %s | Type: %s", scenario.Priority, scenario.Type))
		lines = append(lines, "Steps:")
		for i, step := range scenario.Steps {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, step.Action))
		}
	}

	if scenarios.Notes != "" {
		lines = append(lines, "", "Notes:", scenarios.Notes)
	}

	return strings.Join(lines, "\n")
}

func formatDecisionComment(decision *models.AutomationDecision) string {
	createTask := "No"
	if decision.ShouldCreateAutomationTask {
		createTask = "Yes"
	}
	return strings.Join([]string{
		"AI Automation Decision",
		fmt.Sprintf("Create automation task: %s", createTask),
		fmt.Sprintf("Recommended coverage: %s", decision.RecommendedCoverage),
		fmt.Sprintf("Confidence: %.2f", decision.Confidence),
		fmt.Sprintf("Reason: %s", decision.Reason),
	}, "\n")
}

func formatTaskDescription(decision *models.AutomationDecision, bundle *models.DecisionBundle) string {
	var lines []string
	lines = append(lines,
		"Automation Decision",
		"-------------------",
		fmt.Sprintf("Coverage recommendation: %s", decision.RecommendedCoverage),
		fmt.Sprintf("Confidence: %.2f", decision.Confidence),
		fmt.Sprintf("Reason: %s", decision.Reason),
		"",
		"Generated Playwright skeletons are ready.",
		"",
		"Files:",
	)
	for _, skeleton := range bundle.Skeletons {
		lines = append(lines, fmt.Sprintf("- %s", skeleton.Path))
	}
	for _, note := range bundle.Notes {
		lines = append(lines, fmt.Sprintf("Note: %s", note))
	}
	return strings.Join(lines, "\n")
}

func formatFallbackComment(requestedType string) string {
	return strings.Join([]string{
		"Automation Task Fallback",
		fmt.Sprintf("Requested issue type %q was not available in this project.", requestedType),
		"The task was created as a plain Task with a Relates link to this issue.",
	}, "\n")
}

func formatCompletionComment(outcome *models.JobOutcome) string {
	lines := []string{
		"QA Flow Complete",
		fmt.Sprintf("Scenarios generated: %d", len(outcome.Scenarios.Scenarios)),
		fmt.Sprintf("Skeleton files: %d", len(outcome.Skeletons)),
	}
	if outcome.Task != nil {
		lines = append(lines, fmt.Sprintf("Automation task: %s", outcome.Task.Key))
	}
	if len(outcome.Warnings) > 0 {
		lines = append(lines, fmt.Sprintf("Warnings: %d", len(outcome.Warnings)))
	}
	return strings.Join(lines, "\n")
}
