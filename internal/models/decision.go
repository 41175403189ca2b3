package models

// Recommended coverage levels for the automation decision.
const (
	CoverageFullAutomation    = "full_automation"
	CoveragePartialAutomation = "partial_automation"
	CoverageManualOnly        = "manual_only"
)

// AutomationDecision is the final automation-worthiness verdict. Confidence is
// always populated and clamped to [0,1]; a decision is never partially filled.
type AutomationDecision struct {
	ShouldCreateAutomationTask bool    `json:"shouldCreateAutomationTask"`
	Confidence                 float64 `json:"confidence"`
	Reason                     string  `json:"reason"`
	RecommendedCoverage        string  `json:"recommendedCoverage"`
}

// SkeletonSpec is a proposed starter test file: a relative path under the
// allowed root plus source text. Never executable shell content.
type SkeletonSpec struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DecisionBundle is the structured output of the second generation call: the
// model-proposed decision plus the skeleton files it suggests.
type DecisionBundle struct {
	Decision  AutomationDecision `json:"decision"`
	Skeletons []SkeletonSpec     `json:"files"`
	Notes     []string           `json:"notes"`
}
