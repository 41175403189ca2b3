package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/interfaces"
	"qa-engine-jira/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu            sync.Mutex
	scenarioCalls int
	decisionCalls int
	scenarioErr   error
	decisionErr   error
	proposed      models.AutomationDecision
	skeletons     []models.SkeletonSpec

	// When set, GenerateScenarios blocks until the channel is closed.
	gate chan struct{}
}

func (f *fakeGenerator) GenerateScenarios(ctx context.Context, prompt models.Prompt) (*models.ScenarioSet, error) {
	f.mu.Lock()
	f.scenarioCalls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.scenarioErr != nil {
		return nil, f.scenarioErr
	}
	return &models.ScenarioSet{
		Tags: []string{"smoke"},
		Scenarios: []models.TestScenario{
			{
				ID:       "S1",
				Title:    "Admin reaches billing",
				Priority: "P1",
				Type:     "e2e",
				Steps:    []models.Step{{Action: "Log in as admin"}},
			},
		},
	}, nil
}

func (f *fakeGenerator) GenerateDecision(ctx context.Context, prompt models.Prompt) (*models.DecisionBundle, error) {
	f.mu.Lock()
	f.decisionCalls++
	f.mu.Unlock()

	if f.decisionErr != nil {
		return nil, f.decisionErr
	}
	return &models.DecisionBundle{
		Decision:  f.proposed,
		Skeletons: f.skeletons,
	}, nil
}

type fakeTracker struct {
	mu         sync.Mutex
	comments   []models.CommentKind
	tasks      []string
	commentErr error
	taskErr    error
	fellBack   bool
}

func (f *fakeTracker) AddComment(ctx context.Context, issueKey, body string, kind models.CommentKind) (*models.CommentResult, error) {
	f.mu.Lock()
	f.comments = append(f.comments, kind)
	f.mu.Unlock()

	if f.commentErr != nil {
		return &models.CommentResult{IssueKey: issueKey, Kind: kind, Posted: false}, f.commentErr
	}
	return &models.CommentResult{IssueKey: issueKey, Kind: kind, Posted: true}, nil
}

func (f *fakeTracker) CreateAutomationTask(ctx context.Context, parentKey, summary, description, issueType string) (*models.AutomationTaskRecord, error) {
	if f.taskErr != nil {
		return nil, f.taskErr
	}

	f.mu.Lock()
	f.tasks = append(f.tasks, parentKey)
	key := "QA-900"
	f.mu.Unlock()

	usedType := issueType
	if f.fellBack {
		usedType = "Task"
	}
	return &models.AutomationTaskRecord{
		Key:       key,
		ParentKey: parentKey,
		IssueType: usedType,
		Summary:   summary,
		FellBack:  f.fellBack,
	}, nil
}

func (f *fakeTracker) LinkIssues(ctx context.Context, inwardKey, outwardKey, linkType string) error {
	return nil
}

func (f *fakeTracker) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeTracker) commentKinds() []models.CommentKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CommentKind(nil), f.comments...)
}

type fakeWriter struct {
	writeErr error
	written  atomic.Int32
}

func (f *fakeWriter) WriteSkeletons(skeletons []models.SkeletonSpec) ([]string, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.written.Add(int32(len(skeletons)))
	paths := make([]string, 0, len(skeletons))
	for _, skeleton := range skeletons {
		paths = append(paths, "/sandbox/"+skeleton.Path)
	}
	return paths, nil
}

type fakeStore struct {
	mu       sync.Mutex
	outcomes []*models.JobOutcome
	saved    chan struct{}
}

func (f *fakeStore) SaveOutcome(outcome *models.JobOutcome) error {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, outcome)
	f.mu.Unlock()
	if f.saved != nil {
		f.saved <- struct{}{}
	}
	return nil
}

func (f *fakeStore) LoadOutcome(jobID string) (*models.JobOutcome, error) { return nil, nil }
func (f *fakeStore) LoadRecentOutcomes(limit int) ([]*models.JobOutcome, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

func proposedAutomation() models.AutomationDecision {
	return models.AutomationDecision{
		ShouldCreateAutomationTask: true,
		Confidence:                 0.9,
		Reason:                     "Deterministic access checks.",
		RecommendedCoverage:        models.CoverageFullAutomation,
	}
}

func newTestPipeline(generator *fakeGenerator, tracker interfaces.Tracker, writer interfaces.FileWriter, store interfaces.OutcomeStore) interfaces.Pipeline {
	return NewPipeline(
		NewInputGuard(&common.EngineConfig{}),
		NewPromptBuilder(),
		generator,
		NewDecisionEngine(),
		writer,
		tracker,
		store,
		nil,
		common.GetLogger(),
	)
}

func TestRunFullFlowHappyPath(t *testing.T) {
	generator := &fakeGenerator{
		proposed:  proposedAutomation(),
		skeletons: []models.SkeletonSpec{{Path: "tests/billing.spec.js", Content: "// skeleton"}},
	}
	tracker := &fakeTracker{}
	writer := &fakeWriter{}
	store := &fakeStore{}

	pipe := newTestPipeline(generator, tracker, writer, store)

	outcome, err := pipe.RunFullFlow(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, outcome.Status)
	assert.Empty(t, outcome.Warnings)
	assert.Len(t, outcome.FilesWritten, 1)
	require.NotNil(t, outcome.Task)
	assert.Equal(t, "QA-900", outcome.Task.Key)

	// Scenario, decision and completion comments in order.
	assert.Equal(t, []models.CommentKind{
		models.CommentKindScenarios,
		models.CommentKindDecision,
		models.CommentKindCompletion,
	}, tracker.commentKinds())

	require.Len(t, store.outcomes, 1)
	assert.Equal(t, outcome.JobID, store.outcomes[0].JobID)
}

func TestRunFullFlowValidationFailureSkipsGeneration(t *testing.T) {
	generator := &fakeGenerator{proposed: proposedAutomation()}
	pipe := newTestPipeline(generator, &fakeTracker{}, &fakeWriter{}, &fakeStore{})

	request := validRequest()
	request.AcceptanceCriteria = "short"

	_, err := pipe.RunFullFlow(context.Background(), request)
	require.Error(t, err)
	assert.True(t, common.IsType(err, common.ErrorTypeValidation))
	assert.Equal(t, 0, generator.scenarioCalls)
}

func TestRunFullFlowRejectsDuplicateIssueKey(t *testing.T) {
	gate := make(chan struct{})
	generator := &fakeGenerator{
		proposed: proposedAutomation(),
		gate:     gate,
	}
	tracker := &fakeTracker{}
	pipe := newTestPipeline(generator, tracker, &fakeWriter{}, &fakeStore{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := pipe.RunFullFlow(context.Background(), validRequest())
		firstDone <- err
	}()

	// Wait for the first run to hold the slot inside generation.
	require.Eventually(t, func() bool {
		generator.mu.Lock()
		defer generator.mu.Unlock()
		return generator.scenarioCalls == 1
	}, time.Second, 5*time.Millisecond)

	_, err := pipe.RunFullFlow(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, common.IsType(err, common.ErrorTypeConflict))

	close(gate)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 1, tracker.taskCount())
}

func TestRunFullFlowGenerationFailureAborts(t *testing.T) {
	generator := &fakeGenerator{
		scenarioErr: common.NewGenerationError("model_exhausted", "model failed after retries"),
	}
	tracker := &fakeTracker{}
	store := &fakeStore{}
	pipe := newTestPipeline(generator, tracker, &fakeWriter{}, store)

	_, err := pipe.RunFullFlow(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, common.IsType(err, common.ErrorTypeGeneration))

	// No write-back happened, but the failed outcome is still audited.
	assert.Empty(t, tracker.commentKinds())
	assert.Equal(t, 0, tracker.taskCount())
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, models.JobStatusFailed, store.outcomes[0].Status)
}

func TestRunFullFlowCommentFailureDegrades(t *testing.T) {
	generator := &fakeGenerator{
		proposed:  proposedAutomation(),
		skeletons: []models.SkeletonSpec{{Path: "tests/billing.spec.js", Content: "// skeleton"}},
	}
	tracker := &fakeTracker{
		commentErr: common.NewTrackerError("rate_limited_or_server_error", "Jira returned status 500"),
	}
	pipe := newTestPipeline(generator, tracker, &fakeWriter{}, &fakeStore{})

	outcome, err := pipe.RunFullFlow(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, outcome.Status)
	assert.NotEmpty(t, outcome.Warnings)
	// The task is still created despite failing comments.
	assert.Equal(t, 1, tracker.taskCount())
}

func TestRunFullFlowFileFailureDegrades(t *testing.T) {
	generator := &fakeGenerator{
		proposed:  proposedAutomation(),
		skeletons: []models.SkeletonSpec{{Path: "tests/billing.spec.js", Content: "// skeleton"}},
	}
	tracker := &fakeTracker{}
	writer := &fakeWriter{
		writeErr: common.NewSecurityError("path_traversal", "path escapes the output root"),
	}
	pipe := newTestPipeline(generator, tracker, writer, &fakeStore{})

	outcome, err := pipe.RunFullFlow(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, outcome.Status)
	assert.Empty(t, outcome.FilesWritten)
	assert.NotEmpty(t, outcome.Warnings)
	assert.Equal(t, 1, tracker.taskCount())
}

func TestRunFullFlowVolatileTicketSkipsTask(t *testing.T) {
	generator := &fakeGenerator{
		proposed:  proposedAutomation(),
		skeletons: []models.SkeletonSpec{{Path: "tests/hero.spec.js", Content: "// skeleton"}},
	}
	tracker := &fakeTracker{}
	pipe := newTestPipeline(generator, tracker, &fakeWriter{}, &fakeStore{})

	request := validRequest()
	request.AcceptanceCriteria = "Hero headline varies by A/B cohort depending on experiment assignment."

	outcome, err := pipe.RunFullFlow(context.Background(), request)
	require.NoError(t, err)

	assert.False(t, outcome.Decision.ShouldCreateAutomationTask)
	assert.Equal(t, models.CoverageManualOnly, outcome.Decision.RecommendedCoverage)
	assert.Equal(t, 0, tracker.taskCount())
	assert.Nil(t, outcome.Task)
}

func TestRunFullFlowHonorsRequestFlags(t *testing.T) {
	generator := &fakeGenerator{
		proposed:  proposedAutomation(),
		skeletons: []models.SkeletonSpec{{Path: "tests/billing.spec.js", Content: "// skeleton"}},
	}
	tracker := &fakeTracker{}
	writer := &fakeWriter{}
	pipe := newTestPipeline(generator, tracker, writer, &fakeStore{})

	request := validRequest()
	request.CommentOnJira = false
	request.WritePlaywrightFiles = false
	request.CreateAutomationTask = false

	outcome, err := pipe.RunFullFlow(context.Background(), request)
	require.NoError(t, err)

	assert.Empty(t, tracker.commentKinds())
	assert.Equal(t, int32(0), writer.written.Load())
	assert.Equal(t, 0, tracker.taskCount())
	assert.NotNil(t, outcome.Scenarios)
}

func TestRunFullFlowWithoutTrackerWarnsInsteadOfFailing(t *testing.T) {
	generator := &fakeGenerator{
		proposed:  proposedAutomation(),
		skeletons: []models.SkeletonSpec{{Path: "tests/billing.spec.js", Content: "// skeleton"}},
	}
	pipe := newTestPipeline(generator, nil, &fakeWriter{}, &fakeStore{})

	outcome, err := pipe.RunFullFlow(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, outcome.Status)
	assert.NotEmpty(t, outcome.Warnings)
	assert.Nil(t, outcome.Task)
}

func TestStartFullFlowRunsInBackground(t *testing.T) {
	generator := &fakeGenerator{
		proposed:  proposedAutomation(),
		skeletons: []models.SkeletonSpec{{Path: "tests/billing.spec.js", Content: "// skeleton"}},
	}
	tracker := &fakeTracker{}
	store := &fakeStore{saved: make(chan struct{}, 1)}
	pipe := newTestPipeline(generator, tracker, &fakeWriter{}, store)

	handle, err := pipe.StartFullFlow(validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, handle.JobID)
	assert.Equal(t, "QA-101", handle.IssueKey)

	select {
	case <-store.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("background flow did not finish")
	}

	assert.Equal(t, 1, tracker.taskCount())
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, handle.JobID, store.outcomes[0].JobID)
	assert.Equal(t, models.JobStatusCompleted, store.outcomes[0].Status)
}

func TestStartFullFlowValidationFailureReleasesNothing(t *testing.T) {
	generator := &fakeGenerator{proposed: proposedAutomation()}
	pipe := newTestPipeline(generator, &fakeTracker{}, &fakeWriter{}, &fakeStore{})

	request := validRequest()
	request.IssueKey = ""

	_, err := pipe.StartFullFlow(request)
	require.Error(t, err)
	assert.True(t, common.IsType(err, common.ErrorTypeValidation))

	// A later valid run for any key must still be accepted.
	store := &fakeStore{saved: make(chan struct{}, 1)}
	pipe = newTestPipeline(generator, &fakeTracker{}, &fakeWriter{}, store)
	_, err = pipe.StartFullFlow(validRequest())
	require.NoError(t, err)
	<-store.saved
}

func TestGenerateSkeletonsHasNoSideEffects(t *testing.T) {
	generator := &fakeGenerator{
		proposed:  proposedAutomation(),
		skeletons: []models.SkeletonSpec{{Path: "tests/billing.spec.js", Content: "// skeleton"}},
	}
	tracker := &fakeTracker{}
	writer := &fakeWriter{}
	store := &fakeStore{}
	pipe := newTestPipeline(generator, tracker, writer, store)

	scenarios, decision, skeletons, err := pipe.GenerateSkeletons(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Len(t, scenarios.Scenarios, 1)
	assert.True(t, decision.ShouldCreateAutomationTask)
	assert.Len(t, skeletons, 1)

	assert.Empty(t, tracker.commentKinds())
	assert.Equal(t, 0, tracker.taskCount())
	assert.Equal(t, int32(0), writer.written.Load())
	assert.Empty(t, store.outcomes)
}
