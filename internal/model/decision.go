package model

import "strings"

// ActionType categorizes a recommended action.
type ActionType string

const (
	ActionDataFix            ActionType = "data_fix"
	ActionBusinessExperiment ActionType = "business_experiment"
	ActionFurtherAnalysis    ActionType = "further_analysis"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionDataFix, ActionBusinessExperiment, ActionFurtherAnalysis:
		return true
	}
	return false
}

// Impact is the expected effect size of an action.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// ParseImpact normalises free text into an Impact, defaulting to medium.
func ParseImpact(s string) Impact {
	switch Impact(strings.ToLower(strings.TrimSpace(s))) {
	case ImpactLow:
		return ImpactLow
	case ImpactHigh:
		return ImpactHigh
	default:
		return ImpactMedium
	}
}

// Action is one ranked recommendation.
type Action struct {
	ActionType     ActionType `json:"action_type"`
	Title          string     `json:"title"`
	WhyItMatters   string     `json:"why_it_matters"`
	SuccessMetric  string     `json:"success_metric"`
	ExpectedImpact Impact     `json:"expected_impact"`
	HowToExecute   []string   `json:"how_to_execute"`
	EvidenceUsed   []string   `json:"evidence_used"`
	Confidence     float64    `json:"confidence"`
	Rank           int        `json:"rank"`
}

// DecisionOutput is the Action Ranker's output.
type DecisionOutput struct {
	RankedActions []Action `json:"ranked_actions"`
	Limitations   []string `json:"limitations"`
	NextQuestions []string `json:"next_questions"`
}

// RankRequest carries everything the Action Ranker sees.
type RankRequest struct {
	Goal        string
	Constraints string
	Profiling   ProfilingResult
	Returns     ReturnsIntelligence
	Dependency  RevenueDependencyRisk
}
