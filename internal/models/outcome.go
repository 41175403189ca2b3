package models

import "time"

// CommentKind identifies the purpose of a tracker comment.
type CommentKind string

const (
	CommentKindScenarios  CommentKind = "scenarios"
	CommentKindDecision   CommentKind = "decision"
	CommentKindFallback   CommentKind = "fallback"
	CommentKindCompletion CommentKind = "completion"
)

// CommentResult records one attempted tracker comment.
type CommentResult struct {
	IssueKey string      `json:"issueKey"`
	Kind     CommentKind `json:"kind"`
	Posted   bool        `json:"posted"`
	Error    string      `json:"error,omitempty"`
}

// AutomationTaskRecord describes the automation task actually created,
// including the issue type used after any fallback.
type AutomationTaskRecord struct {
	Key       string `json:"key"`
	ParentKey string `json:"parentKey,omitempty"`
	IssueType string `json:"issueType"`
	Summary   string `json:"summary"`
	FellBack  bool   `json:"fellBack"`
}

// Job status values. Rejected requests never become jobs.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobHandle is returned by the async variant once validation has passed and
// the background run is scheduled.
type JobHandle struct {
	JobID      string    `json:"jobId"`
	IssueKey   string    `json:"issueKey"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// JobOutcome is the terminal value of one pipeline run. It is write-once:
// stages fill their sections as they complete and nothing mutates it after
// the run finishes.
type JobOutcome struct {
	JobID        string                `json:"jobId"`
	IssueKey     string                `json:"issueKey"`
	Status       string                `json:"status"`
	Scenarios    *ScenarioSet          `json:"scenarios,omitempty"`
	Decision     *AutomationDecision   `json:"decision,omitempty"`
	Skeletons    []SkeletonSpec        `json:"skeletons,omitempty"`
	FilesWritten []string              `json:"filesWritten,omitempty"`
	Comments     []CommentResult       `json:"comments,omitempty"`
	Task         *AutomationTaskRecord `json:"task,omitempty"`
	Warnings     []string              `json:"warnings,omitempty"`
	Error        string                `json:"error,omitempty"`
	StartedAt    time.Time             `json:"startedAt"`
	FinishedAt   time.Time             `json:"finishedAt"`
}

// AddWarning appends a non-fatal degradation note to the outcome.
func (o *JobOutcome) AddWarning(warning string) {
	o.Warnings = append(o.Warnings, warning)
}
