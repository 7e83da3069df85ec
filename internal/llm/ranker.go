package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/model"
)

// Operations reported to the fallback hook.
const (
	OpClusterReasons = "cluster_reasons"
	OpRankActions    = "rank_actions"
)

// Ranker clusters return reasons and ranks recommended actions. A Ranker
// without a client is unavailable and answers with a fixed placeholder.
type Ranker struct {
	client     Client
	prompts    *promptBuilder
	schemas    *responseSchemas
	logger     *slog.Logger
	onFallback func(op string)
	cache      *responseCache
	timeout    time.Duration
	maxActions int
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) RankerOption {
	return func(r *Ranker) { r.timeout = d }
}

// WithMaxActions caps the number of ranked actions kept.
func WithMaxActions(n int) RankerOption {
	return func(r *Ranker) { r.maxActions = n }
}

// WithLogger sets the ranker's logger.
func WithLogger(l *slog.Logger) RankerOption {
	return func(r *Ranker) { r.logger = l }
}

// WithFallbackHook is called whenever a provider failure degrades output.
func WithFallbackHook(fn func(op string)) RankerOption {
	return func(r *Ranker) { r.onFallback = fn }
}

// WithCacheTTL keeps accepted responses for ttl so identical prompts skip
// the provider. A non-positive ttl disables caching.
func WithCacheTTL(ttl time.Duration) RankerOption {
	return func(r *Ranker) {
		r.cache = nil
		if ttl > 0 {
			r.cache = newResponseCache(ttl)
		}
	}
}

// NewRanker creates a Ranker. client may be nil.
func NewRanker(client Client, opts ...RankerOption) (*Ranker, error) {
	prompts, err := newPromptBuilder()
	if err != nil {
		return nil, err
	}
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	r := &Ranker{
		client:     client,
		prompts:    prompts,
		schemas:    schemas,
		logger:     slog.Default(),
		timeout:    60 * time.Second,
		maxActions: 7,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Available reports whether a provider is configured.
func (r *Ranker) Available() bool {
	return r != nil && r.client != nil
}

// ClusterReasons asks the provider to group reasons into themes.
func (r *Ranker) ClusterReasons(ctx context.Context, sample []model.ReasonSample) ([]model.Theme, error) {
	if !r.Available() {
		return nil, common.ErrLLMUnavailable
	}
	if len(sample) == 0 {
		return []model.Theme{}, nil
	}

	req, err := r.prompts.BuildClusterPrompt(sample)
	if err != nil {
		return nil, err
	}

	content, hit := r.cached(req)
	if !hit {
		content, err = r.complete(ctx, req)
		if err != nil {
			r.fallback(OpClusterReasons)
			return nil, err
		}
	}

	themes, err := r.parseThemes(content)
	if err != nil {
		r.fallback(OpClusterReasons)
		return nil, err
	}
	if !hit {
		r.remember(req, content)
	}

	r.logger.Info("clustered return reasons", "samples", len(sample), "themes", len(themes))
	return themes, nil
}

// RankActions returns ranked recommendations. It never fails: an unavailable
// provider yields PlaceholderDecision and a failed call yields an empty,
// annotated decision.
func (r *Ranker) RankActions(ctx context.Context, req model.RankRequest) (out model.DecisionOutput) {
	if !r.Available() {
		r.loggerOrDefault().Info("LLM unavailable, returning placeholder decision output")
		return PlaceholderDecision()
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("action ranking panicked", "panic", p)
			r.fallback(OpRankActions)
			out = failedDecision(fmt.Errorf("panic: %v", p))
		}
	}()

	prompt, err := r.prompts.BuildRankPrompt(req, r.maxActions)
	if err != nil {
		r.fallback(OpRankActions)
		return failedDecision(err)
	}

	content, hit := r.cached(prompt)
	if !hit {
		content, err = r.complete(ctx, prompt)
		if err != nil {
			r.logger.Warn("action ranking call failed", "error", err)
			r.fallback(OpRankActions)
			return failedDecision(err)
		}
	}

	decision, err := r.parseDecision(content)
	if err != nil {
		r.logger.Warn("action ranking response rejected", "error", err)
		r.fallback(OpRankActions)
		return failedDecision(err)
	}
	if !hit {
		r.remember(prompt, content)
	}
	return decision
}

func (r *Ranker) complete(ctx context.Context, req Request) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	content, err := r.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	r.logger.Debug("LLM call succeeded", "chars", len(content), "duration", time.Since(start))
	return content, nil
}

// cached returns a previously accepted response for req.
func (r *Ranker) cached(req Request) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	return r.cache.get(cacheKey(req))
}

// remember stores content once it has parsed and passed schema validation.
func (r *Ranker) remember(req Request, content string) {
	if r.cache != nil {
		r.cache.set(cacheKey(req), content)
	}
}

func (r *Ranker) fallback(op string) {
	if r.onFallback != nil {
		r.onFallback(op)
	}
}

func (r *Ranker) loggerOrDefault() *slog.Logger {
	if r == nil || r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

type rawTheme struct {
	Theme        string   `json:"theme"`
	Examples     []string `json:"examples"`
	SKUsAffected []any    `json:"skus_affected"`
	Severity     float64  `json:"severity"`
}

func (r *Ranker) parseThemes(content string) ([]model.Theme, error) {
	v, raw, err := decodeObject(content)
	if err != nil {
		return nil, err
	}
	if err := validateAgainst(r.schemas.themes, v); err != nil {
		return nil, err
	}

	var parsed struct {
		Themes []rawTheme `json:"themes"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedLLMJSON, err)
	}

	themes := make([]model.Theme, 0, len(parsed.Themes))
	for _, t := range parsed.Themes {
		label := strings.TrimSpace(t.Theme)
		if label == "" {
			continue
		}
		skus := make([]string, 0, len(t.SKUsAffected))
		for _, s := range t.SKUsAffected {
			skus = append(skus, fmt.Sprint(s))
		}
		themes = append(themes, model.Theme{
			Theme:        label,
			Examples:     nonNilStrings(t.Examples),
			SKUsAffected: skus,
			Severity:     clampSeverity(t.Severity),
		})
	}
	return themes, nil
}

type rawAction struct {
	ActionType     string   `json:"action_type"`
	Title          string   `json:"title"`
	WhyItMatters   string   `json:"why_it_matters"`
	SuccessMetric  string   `json:"success_metric"`
	ExpectedImpact string   `json:"expected_impact"`
	HowToExecute   []string `json:"how_to_execute"`
	EvidenceUsed   []string `json:"evidence_used"`
	Confidence     float64  `json:"confidence"`
	Rank           float64  `json:"rank"`
}

func (r *Ranker) parseDecision(content string) (model.DecisionOutput, error) {
	v, raw, err := decodeObject(content)
	if err != nil {
		return model.DecisionOutput{}, err
	}
	if err := validateAgainst(r.schemas.decision, v); err != nil {
		return model.DecisionOutput{}, err
	}

	var parsed struct {
		RankedActions []rawAction `json:"ranked_actions"`
		Limitations   []string    `json:"limitations"`
		NextQuestions []string    `json:"next_questions"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return model.DecisionOutput{}, fmt.Errorf("%w: %w", common.ErrMalformedLLMJSON, err)
	}

	// Unranked entries sort after ranked ones in their original order.
	sort.SliceStable(parsed.RankedActions, func(i, j int) bool {
		ri, rj := parsed.RankedActions[i].Rank, parsed.RankedActions[j].Rank
		if ri <= 0 {
			return false
		}
		if rj <= 0 {
			return true
		}
		return ri < rj
	})

	actions := make([]model.Action, 0, len(parsed.RankedActions))
	for _, a := range parsed.RankedActions {
		if r.maxActions > 0 && len(actions) == r.maxActions {
			break
		}
		actionType := model.ActionType(strings.ToLower(strings.TrimSpace(a.ActionType)))
		if !actionType.Valid() {
			actionType = model.ActionFurtherAnalysis
		}
		actions = append(actions, model.Action{
			Rank:           len(actions) + 1,
			ActionType:     actionType,
			Title:          strings.TrimSpace(a.Title),
			WhyItMatters:   a.WhyItMatters,
			HowToExecute:   nonNilStrings(a.HowToExecute),
			SuccessMetric:  a.SuccessMetric,
			ExpectedImpact: model.ParseImpact(a.ExpectedImpact),
			Confidence:     clampUnit(a.Confidence),
			EvidenceUsed:   nonNilStrings(a.EvidenceUsed),
		})
	}

	return model.DecisionOutput{
		RankedActions: actions,
		Limitations:   nonNilStrings(parsed.Limitations),
		NextQuestions: nonNilStrings(parsed.NextQuestions),
	}, nil
}

// PlaceholderDecision is returned when no provider is configured.
func PlaceholderDecision() model.DecisionOutput {
	return model.DecisionOutput{
		RankedActions: []model.Action{{
			Rank:         1,
			ActionType:   model.ActionFurtherAnalysis,
			Title:        "Configure OpenAI API key to enable LLM-powered action ranking",
			WhyItMatters: "Without an LLM, the engine can only provide deterministic metrics.",
			HowToExecute: []string{
				"Set OPENAI_API_KEY (or MARGIN_LLM_API_KEY) in the server environment",
				"Restart the server",
			},
			SuccessMetric:  "LLM decision output populates with ranked actions",
			ExpectedImpact: model.ImpactHigh,
			Confidence:     1.0,
			EvidenceUsed:   []string{"OPENAI_API_KEY not set"},
		}},
		Limitations: []string{
			"LLM unavailable: decision output is a placeholder",
			"Set OPENAI_API_KEY to unlock full analysis",
		},
		NextQuestions: []string{
			"What LLM model do you want to use? (default: gpt-4o-mini)",
		},
	}
}

func failedDecision(err error) model.DecisionOutput {
	return model.DecisionOutput{
		RankedActions: []model.Action{},
		Limitations: []string{
			"LLM action ranking failed; no ranked actions were produced",
			"Cause: " + common.Truncate(err.Error(), 200),
		},
		NextQuestions: []string{},
	}
}

// clampSeverity bounds v to 1..5 before converting so huge values cannot
// overflow the int conversion.
func clampSeverity(v float64) int {
	if math.IsNaN(v) {
		return 1
	}
	return int(math.Round(math.Max(1, math.Min(5, v))))
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
