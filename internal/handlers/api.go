package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/interfaces"
	"qa-engine-jira/internal/models"

	"github.com/ternarybob/arbor"
)

// APIHandlers contains all API endpoint handlers
type APIHandlers struct {
	config    *common.Config
	pipeline  interfaces.Pipeline
	store     interfaces.OutcomeStore
	logger    arbor.ILogger
	startTime time.Time
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Build     string    `json:"build"`
	Uptime    float64   `json:"uptime_seconds"`
	Services  struct {
		Database bool `json:"database"`
		Jira     bool `json:"jira"`
	} `json:"services"`
}

// VersionResponse represents version information
type VersionResponse struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Commit  string `json:"commit"`
}

// ConfigResponse is the redacted configuration display response. Credentials
// never leave the process.
type ConfigResponse struct {
	Engine struct {
		Name        string `json:"name"`
		Environment string `json:"environment"`
		Port        int    `json:"port"`
		AuthEnabled bool   `json:"auth_enabled"`
	} `json:"engine"`
	Gemini struct {
		Model string `json:"model"`
	} `json:"gemini"`
	Jira struct {
		BaseURL    string `json:"base_url"`
		ProjectKey string `json:"project_key"`
		Configured bool   `json:"configured"`
	} `json:"jira"`
	Files struct {
		OutputRoot string `json:"output_root"`
	} `json:"files"`
}

// ErrorResponse carries only the stable error classification, never internal
// diagnostic detail.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SkeletonsResponse bundles the no-side-effect generation result.
type SkeletonsResponse struct {
	Scenarios *models.ScenarioSet        `json:"scenarios"`
	Decision  *models.AutomationDecision `json:"decision"`
	Skeletons []models.SkeletonSpec      `json:"skeletons"`
}

// AsyncAcceptedResponse acknowledges a scheduled background flow.
type AsyncAcceptedResponse struct {
	Status   string            `json:"status"`
	Mode     string            `json:"mode"`
	Job      *models.JobHandle `json:"job"`
	Message  string            `json:"message"`
	IssueKey string            `json:"issueKey"`
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(config *common.Config, pipeline interfaces.Pipeline, store interfaces.OutcomeStore, logger arbor.ILogger) *APIHandlers {
	return &APIHandlers{
		config:    config,
		pipeline:  pipeline,
		store:     store,
		logger:    logger,
		startTime: time.Now(),
	}
}

// HealthHandler returns system health status
func (h *APIHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   common.GetVersion(),
		Build:     common.GetBuild(),
		Uptime:    time.Since(h.startTime).Seconds(),
	}

	health.Services.Database = h.testDatabaseConnection()
	health.Services.Jira = h.config.JiraConfigured()

	if !health.Services.Database {
		health.Status = "degraded"
	}

	h.writeJSON(w, http.StatusOK, health)
}

// VersionHandler returns version information
func (h *APIHandlers) VersionHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, VersionResponse{
		Version: common.GetVersion(),
		Build:   common.GetBuild(),
		Commit:  common.GetGitCommit(),
	})
}

// ConfigHandler returns the redacted runtime configuration
func (h *APIHandlers) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	resp := ConfigResponse{}
	resp.Engine.Name = h.config.Engine.Name
	resp.Engine.Environment = h.config.Engine.Environment
	resp.Engine.Port = h.config.Engine.Port
	resp.Engine.AuthEnabled = h.config.Engine.AuthToken != ""
	resp.Gemini.Model = h.config.Gemini.Model
	resp.Jira.BaseURL = h.config.Jira.BaseURL
	resp.Jira.ProjectKey = h.config.Jira.ProjectKey
	resp.Jira.Configured = h.config.JiraConfigured()
	resp.Files.OutputRoot = h.config.Files.OutputRoot

	h.writeJSON(w, http.StatusOK, resp)
}

// GenerateTestsHandler generates manual QA scenarios without side effects
func (h *APIHandlers) GenerateTestsHandler(w http.ResponseWriter, r *http.Request) {
	request, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	scenarios, err := h.pipeline.GenerateScenarios(r.Context(), request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, scenarios)
}

// GenerateSkeletonsHandler generates scenarios, the automation decision and
// skeleton files without writing anything
func (h *APIHandlers) GenerateSkeletonsHandler(w http.ResponseWriter, r *http.Request) {
	request, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	scenarios, decision, skeletons, err := h.pipeline.GenerateSkeletons(r.Context(), request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, SkeletonsResponse{
		Scenarios: scenarios,
		Decision:  decision,
		Skeletons: skeletons,
	})
}

// FullQAFlowHandler runs the complete pipeline synchronously
func (h *APIHandlers) FullQAFlowHandler(w http.ResponseWriter, r *http.Request) {
	request, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	outcome, err := h.pipeline.RunFullFlow(r.Context(), request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, outcome)
}

// FullQAFlowAsyncHandler schedules the pipeline as background work and
// returns immediately, staying under short webhook timeouts
func (h *APIHandlers) FullQAFlowAsyncHandler(w http.ResponseWriter, r *http.Request) {
	request, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	handle, err := h.pipeline.StartFullFlow(request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, AsyncAcceptedResponse{
		Status:   "accepted",
		Mode:     "async",
		Job:      handle,
		IssueKey: handle.IssueKey,
		Message:  "Full QA flow started in background.",
	})
}

// JobsHandler lists recent job outcomes from the audit store
func (h *APIHandlers) JobsHandler(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeJSON(w, http.StatusOK, []*models.JobOutcome{})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	if jobID := r.URL.Query().Get("id"); jobID != "" {
		outcome, err := h.store.LoadOutcome(jobID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if outcome == nil {
			h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "unknown job id"})
			return
		}
		h.writeJSON(w, http.StatusOK, outcome)
		return
	}

	outcomes, err := h.store.LoadRecentOutcomes(limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, outcomes)
}

func (h *APIHandlers) decodeRequest(w http.ResponseWriter, r *http.Request) (*models.GenerationRequest, bool) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
			Error:   "method_not_allowed",
			Message: "use POST",
		})
		return nil, false
	}

	var request models.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   string(common.ErrorTypeValidation),
			Message: "request body is not valid JSON",
		})
		return nil, false
	}

	return &request, true
}

// writeError maps the engine error taxonomy onto HTTP status codes. Only the
// stable classification and message reach the caller.
func (h *APIHandlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	errType := common.TypeOf(err)
	switch errType {
	case common.ErrorTypeValidation, common.ErrorTypeInjection:
		status = http.StatusBadRequest
	case common.ErrorTypeSecurity:
		status = http.StatusForbidden
	case common.ErrorTypeConflict:
		status = http.StatusConflict
	case common.ErrorTypeSchema, common.ErrorTypeGeneration:
		status = http.StatusBadGateway
	}

	var engineErr *common.EngineError
	if errors.As(err, &engineErr) && status != http.StatusInternalServerError {
		message = engineErr.Message
	}

	h.logger.Warn().
		Str("error_type", string(errType)).
		Int("status", status).
		Err(err).
		Msg("Request failed")

	h.writeJSON(w, status, ErrorResponse{
		Error:   string(errType),
		Message: message,
	})
}

func (h *APIHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *APIHandlers) testDatabaseConnection() bool {
	if h.store == nil {
		return false
	}
	_, err := h.store.LoadRecentOutcomes(1)
	return err == nil
}
