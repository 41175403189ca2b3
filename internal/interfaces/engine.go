package interfaces

import (
	"context"

	"qa-engine-jira/internal/models"
)

// Generator produces schema-validated structured output from the generative
// model. Implementations retry transient transport failures only; output that
// fails schema validation is returned as a schema error without retry.
type Generator interface {
	GenerateScenarios(ctx context.Context, prompt models.Prompt) (*models.ScenarioSet, error)
	GenerateDecision(ctx context.Context, prompt models.Prompt) (*models.DecisionBundle, error)
}

// Tracker writes comments and automation tasks to the issue tracker.
type Tracker interface {
	AddComment(ctx context.Context, issueKey, body string, kind models.CommentKind) (*models.CommentResult, error)
	CreateAutomationTask(ctx context.Context, parentKey, summary, description, issueType string) (*models.AutomationTaskRecord, error)
	LinkIssues(ctx context.Context, inwardKey, outwardKey, linkType string) error
}

// FileWriter emits validated skeleton files under the sandboxed output root.
type FileWriter interface {
	WriteSkeletons(skeletons []models.SkeletonSpec) ([]string, error)
}

// OutcomeStore is the write-only audit log of finished pipeline runs. The
// pipeline never reads it back; only the jobs endpoint does.
type OutcomeStore interface {
	SaveOutcome(outcome *models.JobOutcome) error
	LoadOutcome(jobID string) (*models.JobOutcome, error)
	LoadRecentOutcomes(limit int) ([]*models.JobOutcome, error)
	Close() error
}

// Pipeline coordinates the full QA flow.
type Pipeline interface {
	RunFullFlow(ctx context.Context, request *models.GenerationRequest) (*models.JobOutcome, error)
	StartFullFlow(request *models.GenerationRequest) (*models.JobHandle, error)
	GenerateScenarios(ctx context.Context, request *models.GenerationRequest) (*models.ScenarioSet, error)
	GenerateSkeletons(ctx context.Context, request *models.GenerationRequest) (*models.ScenarioSet, *models.AutomationDecision, []models.SkeletonSpec, error)
}

// EventSink receives pipeline progress events for live streaming.
type EventSink interface {
	PublishJobEvent(eventType string, data interface{})
}

// WebService is the HTTP front end lifecycle.
type WebService interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}
