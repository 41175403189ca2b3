package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/interfaces"
	"qa-engine-jira/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
)

const trackerRetryBaseDelay = 400 * time.Millisecond

// jiraClient handles Jira REST API write-back: rich-text comments, automation
// task creation with issue-type fallback, and issue links.
type jiraClient struct {
	client      *resty.Client
	projectKey  string
	maxAttempts int
	logger      arbor.ILogger
}

// NewJiraClient creates a new Jira tracker client.
func NewJiraClient(cfg *common.JiraConfig, logger arbor.ILogger) (interfaces.Tracker, error) {
	if cfg.BaseURL == "" || cfg.Email == "" || cfg.APIToken == "" {
		return nil, common.NewError(common.ErrorTypeConfiguration, "jira_credentials_missing",
			"jira base_url, email and api_token are required")
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.Email, cfg.APIToken).
		SetTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &jiraClient{
		client:      client,
		projectKey:  cfg.ProjectKey,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}, nil
}

// toADF converts plain text into Jira's Atlassian Document Format: one
// paragraph per input line, blank lines preserved as empty paragraphs.
func toADF(text string) map[string]interface{} {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		lines = []string{""}
	}

	content := make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			content = append(content, map[string]interface{}{
				"type":    "paragraph",
				"content": []interface{}{},
			})
			continue
		}
		content = append(content, map[string]interface{}{
			"type": "paragraph",
			"content": []interface{}{
				map[string]interface{}{"type": "text", "text": line},
			},
		})
	}

	return map[string]interface{}{
		"type":    "doc",
		"version": 1,
		"content": content,
	}
}

// AddComment posts a rich-text comment to an issue.
func (jc *jiraClient) AddComment(ctx context.Context, issueKey, body string, kind models.CommentKind) (*models.CommentResult, error) {
	payload := map[string]interface{}{"body": toADF(body)}

	err := jc.doWithRetry(ctx, fmt.Sprintf("comment %s", issueKey), func() (*resty.Response, error) {
		return jc.client.R().
			SetContext(ctx).
			SetBody(payload).
			Post(fmt.Sprintf("/rest/api/3/issue/%s/comment", issueKey))
	})
	if err != nil {
		return &models.CommentResult{
			IssueKey: issueKey,
			Kind:     kind,
			Posted:   false,
			Error:    string(common.TypeOf(err)),
		}, err
	}

	jc.logger.Info().
		Str("issue_key", issueKey).
		Str("kind", string(kind)).
		Msg("Jira comment posted")

	return &models.CommentResult{
		IssueKey: issueKey,
		Kind:     kind,
		Posted:   true,
	}, nil
}

type createIssueResponse struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// CreateAutomationTask creates the automation task, falling back to a plain
// Task when the project does not support the requested subtask type. The
// fallback drops the structural parent and appends a textual parent note to
// the body instead; a Relates link ties the task back to the parent.
func (jc *jiraClient) CreateAutomationTask(ctx context.Context, parentKey, summary, description, issueType string) (*models.AutomationTaskRecord, error) {
	created, err := jc.createIssue(ctx, parentKey, summary, description, issueType)
	usedType := issueType
	fellBack := false

	if err != nil && isSubtaskType(issueType) && isUnsupportedIssueType(err) {
		jc.logger.Warn().
			Str("issue_type", issueType).
			Str("parent_key", parentKey).
			Msg("Requested issue type unavailable, falling back to Task")

		fallbackDescription := description +
			"\n\nFallback note: Requested issue type was unavailable; created as Task.\nParent issue: " + parentKey
		created, err = jc.createIssue(ctx, "", summary, fallbackDescription, "Task")
		usedType = "Task"
		fellBack = true
	}
	if err != nil {
		return nil, err
	}

	record := &models.AutomationTaskRecord{
		Key:       created.Key,
		ParentKey: parentKey,
		IssueType: usedType,
		Summary:   summary,
		FellBack:  fellBack,
	}

	// Structural subtasks already hang off the parent. Everything else gets a
	// Relates link.
	if parentKey != "" && !isSubtaskType(usedType) {
		if linkErr := jc.LinkIssues(ctx, parentKey, created.Key, "Relates"); linkErr != nil {
			jc.logger.Warn().Err(linkErr).
				Str("task_key", created.Key).
				Msg("Failed to link automation task to parent")
		}
	}

	jc.logger.Info().
		Str("task_key", created.Key).
		Str("issue_type", usedType).
		Bool("fell_back", fellBack).
		Msg("Automation task created")

	return record, nil
}

func (jc *jiraClient) createIssue(ctx context.Context, parentKey, summary, description, issueType string) (*createIssueResponse, error) {
	if jc.projectKey == "" {
		return nil, common.NewError(common.ErrorTypeConfiguration, "jira_project_key_missing",
			"jira project_key is required to create issues")
	}

	fields := map[string]interface{}{
		"project":     map[string]interface{}{"key": jc.projectKey},
		"summary":     summary,
		"issuetype":   map[string]interface{}{"name": issueType},
		"description": toADF(description),
	}
	if isSubtaskType(issueType) && parentKey != "" {
		fields["parent"] = map[string]interface{}{"key": parentKey}
	}

	var created createIssueResponse
	err := jc.doWithRetry(ctx, "create issue", func() (*resty.Response, error) {
		return jc.client.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{"fields": fields}).
			SetResult(&created).
			Post("/rest/api/3/issue")
	})
	if err != nil {
		return nil, err
	}

	return &created, nil
}

// LinkIssues creates a named link between two issues.
func (jc *jiraClient) LinkIssues(ctx context.Context, inwardKey, outwardKey, linkType string) error {
	payload := map[string]interface{}{
		"type":         map[string]interface{}{"name": linkType},
		"inwardIssue":  map[string]interface{}{"key": inwardKey},
		"outwardIssue": map[string]interface{}{"key": outwardKey},
	}

	return jc.doWithRetry(ctx, "link issues", func() (*resty.Response, error) {
		return jc.client.R().
			SetContext(ctx).
			SetBody(payload).
			Post("/rest/api/3/issueLink")
	})
}

// doWithRetry runs one tracker call with a bounded explicit retry loop.
// Credential failures are fatal immediately; only rate limits and server
// errors are retried.
func (jc *jiraClient) doWithRetry(ctx context.Context, operation string, call func() (*resty.Response, error)) error {
	var lastErr error
	delay := trackerRetryBaseDelay

	for attempt := 1; attempt <= jc.maxAttempts; attempt++ {
		resp, err := call()

		switch {
		case err != nil:
			lastErr = common.NewTrackerError("transport",
				fmt.Sprintf("%s: request failed", operation)).WithCause(err)
		case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
			// Credential failures are not transient.
			return common.NewSecurityError("tracker_auth",
				fmt.Sprintf("%s: Jira rejected the credentials (status %d)", operation, resp.StatusCode()))
		case resp.StatusCode() == http.StatusNotFound:
			return common.NewTrackerError("not_found",
				fmt.Sprintf("%s: Jira returned 404", operation))
		case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
			lastErr = common.NewTrackerError("rate_limited_or_server_error",
				fmt.Sprintf("%s: Jira returned status %d", operation, resp.StatusCode()))
		case resp.StatusCode() >= 300:
			return common.NewTrackerError("request_rejected",
				fmt.Sprintf("%s: Jira returned status %d", operation, resp.StatusCode())).
				WithDetails(resp.String())
		default:
			return nil
		}

		jc.logger.Warn().
			Int("attempt", attempt).
			Str("operation", operation).
			Err(lastErr).
			Msg("Jira call failed")

		if attempt < jc.maxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return common.NewTrackerError("cancelled", operation+": cancelled").WithCause(ctx.Err())
			}
			delay *= 2
		}
	}

	return lastErr
}

func isSubtaskType(issueType string) bool {
	switch strings.ToLower(issueType) {
	case "sub-task", "subtask":
		return true
	}
	return false
}

// isUnsupportedIssueType detects Jira's "valid issue type" validation error
// returned when the project has the requested type disabled.
func isUnsupportedIssueType(err error) bool {
	var engineErr *common.EngineError
	if !errors.As(err, &engineErr) {
		return false
	}
	return engineErr.Code == "request_rejected" &&
		strings.Contains(strings.ToLower(engineErr.Details), "valid issue type")
}
