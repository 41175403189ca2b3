package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/interfaces"
	"qa-engine-jira/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
)

const generationRetryBaseDelay = 400 * time.Millisecond

// geminiClient calls the Gemini generateContent API and enforces output-schema
// conformance before returning anything to the pipeline.
type geminiClient struct {
	client      *resty.Client
	model       string
	temperature float64
	maxAttempts int
	logger      arbor.ILogger
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewGeminiClient creates a generation client from configuration.
func NewGeminiClient(cfg *common.GeminiConfig, logger arbor.ILogger) (interfaces.Generator, error) {
	if cfg.APIKey == "" {
		return nil, common.NewError(common.ErrorTypeConfiguration, "gemini_api_key_missing",
			"gemini api_key is required (set GEMINI_API_KEY)")
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetQueryParam("key", cfg.APIKey)

	return &geminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}, nil
}

// GenerateScenarios runs the first generation call and validates the scenario
// schema.
func (gc *geminiClient) GenerateScenarios(ctx context.Context, prompt models.Prompt) (*models.ScenarioSet, error) {
	raw, err := gc.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var scenarios models.ScenarioSet
	if err := decodeStrict(raw, &scenarios); err != nil {
		return nil, common.NewSchemaError("scenarios_schema_invalid",
			"model output did not match the scenario schema").WithCause(err)
	}
	if err := validateScenarioSet(&scenarios); err != nil {
		return nil, common.NewSchemaError("scenarios_schema_invalid", err.Error())
	}

	return &scenarios, nil
}

// GenerateDecision runs the second generation call and validates the decision
// and skeleton schema.
func (gc *geminiClient) GenerateDecision(ctx context.Context, prompt models.Prompt) (*models.DecisionBundle, error) {
	raw, err := gc.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var bundle models.DecisionBundle
	if err := decodeStrict(raw, &bundle); err != nil {
		return nil, common.NewSchemaError("decision_schema_invalid",
			"model output did not match the decision schema").WithCause(err)
	}
	if err := validateDecisionBundle(&bundle); err != nil {
		return nil, common.NewSchemaError("decision_schema_invalid", err.Error())
	}

	return &bundle, nil
}

// generate performs the HTTP call with bounded retries on transport errors and
// 429/5xx only. Schema problems are the caller's concern; a malformed model
// response rarely self-corrects, so it is never retried here.
func (gc *geminiClient) generate(ctx context.Context, prompt models.Prompt) (string, error) {
	body := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt.Text}}},
		},
		GenerationConfig: geminiGenerationConfig{Temperature: gc.temperature},
	}

	var lastErr error
	delay := generationRetryBaseDelay

	for attempt := 1; attempt <= gc.maxAttempts; attempt++ {
		var response geminiResponse

		resp, err := gc.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&response).
			Post(fmt.Sprintf("/models/%s:generateContent", gc.model))

		switch {
		case err != nil:
			lastErr = common.NewGenerationError("transient",
				"generation request failed").WithCause(err)
		case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
			lastErr = common.NewGenerationError("transient",
				fmt.Sprintf("generation API returned status %d", resp.StatusCode()))
		case resp.StatusCode() != http.StatusOK:
			// Client-side rejection by the provider. Retrying cannot help.
			return "", common.NewGenerationError("upstream_rejected",
				fmt.Sprintf("generation API rejected the request with status %d", resp.StatusCode()))
		default:
			text := extractText(&response)
			if text == "" {
				return "", common.NewSchemaError("empty_response", "model returned no candidate text")
			}
			return cleanJSONText(text), nil
		}

		gc.logger.Warn().
			Int("attempt", attempt).
			Str("task", prompt.TaskKind).
			Err(lastErr).
			Msg("Generation call failed")

		if attempt < gc.maxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", common.NewGenerationError("transient", "generation cancelled").WithCause(ctx.Err())
			}
			delay *= 2
		}
	}

	return "", lastErr
}

func extractText(response *geminiResponse) string {
	if len(response.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// cleanJSONText strips markdown code fences some models wrap around JSON.
func cleanJSONText(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	if strings.HasSuffix(cleaned, "```") {
		cleaned = strings.TrimSpace(cleaned[:len(cleaned)-3])
	}
	return cleaned
}

func decodeStrict(raw string, target interface{}) error {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	// Exactly one JSON value; trailing commentary after it is a schema breach.
	if err := decoder.Decode(new(json.RawMessage)); err != io.EOF {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

func validateScenarioSet(set *models.ScenarioSet) error {
	if len(set.Scenarios) == 0 {
		return fmt.Errorf("scenario list is empty")
	}
	for i, scenario := range set.Scenarios {
		if scenario.ID == "" || scenario.Title == "" {
			return fmt.Errorf("scenario %d is missing id or title", i)
		}
		if len(scenario.Steps) == 0 {
			return fmt.Errorf("scenario %s has no steps", scenario.ID)
		}
	}
	return nil
}

func validateDecisionBundle(bundle *models.DecisionBundle) error {
	decision := bundle.Decision
	if strings.TrimSpace(decision.Reason) == "" {
		return fmt.Errorf("decision reason is empty")
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		return fmt.Errorf("decision confidence %v outside [0,1]", decision.Confidence)
	}
	switch decision.RecommendedCoverage {
	case models.CoverageFullAutomation, models.CoveragePartialAutomation, models.CoverageManualOnly:
	default:
		return fmt.Errorf("unknown recommendedCoverage %q", decision.RecommendedCoverage)
	}
	for i, skeleton := range bundle.Skeletons {
		if skeleton.Path == "" {
			return fmt.Errorf("skeleton %d has an empty path", i)
		}
		if len(skeleton.Content) == 0 || len(skeleton.Content) > models.MaxFileContentChars {
			return fmt.Errorf("skeleton %s content length out of bounds", skeleton.Path)
		}
	}
	return nil
}
