package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient returns canned completions and records requests.
type fakeClient struct {
	err       error
	responses []string
	requests  []Request
	mu        sync.Mutex
}

func (f *fakeClient) Complete(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no canned response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

type blockingClient struct{}

func (blockingClient) Complete(ctx context.Context, _ Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func rankRequest() model.RankRequest {
	return model.RankRequest{
		Goal:        "Maximize contribution margin",
		Constraints: "No price increases",
		Profiling: model.ProfilingResult{
			TotalRevenue: 130,
			SKURevenue:   []model.SKURevenue{{SKU: "B", Revenue: 75}},
		},
		Dependency: model.RevenueDependencyRisk{RiskLevel: model.RiskHigh},
	}
}

func TestRanker_Placeholder(t *testing.T) {
	r, err := NewRanker(nil)
	require.NoError(t, err)
	assert.False(t, r.Available())

	out := r.RankActions(context.Background(), rankRequest())
	require.Len(t, out.RankedActions, 1)
	assert.Equal(t, 1, out.RankedActions[0].Rank)
	assert.Equal(t, model.ActionFurtherAnalysis, out.RankedActions[0].ActionType)
	assert.Equal(t, model.ImpactHigh, out.RankedActions[0].ExpectedImpact)
	assert.InDelta(t, 1.0, out.RankedActions[0].Confidence, 1e-9)
	assert.Len(t, out.Limitations, 2)
	assert.Len(t, out.NextQuestions, 1)

	_, err = r.ClusterReasons(context.Background(), []model.ReasonSample{{SKU: "A", Reason: "x", Count: 1}})
	assert.ErrorIs(t, err, common.ErrLLMUnavailable)
}

func TestRanker_RankActions(t *testing.T) {
	t.Run("parses and sanitises", func(t *testing.T) {
		client := &fakeClient{responses: []string{"```json\n" + `{
			"ranked_actions": [
				{"rank": 2, "action_type": "business_experiment", "title": "Bundle SKU B", "expected_impact": "HIGH", "confidence": 1.7, "evidence_used": ["top1_share_over_45pct"]},
				{"rank": 1, "action_type": "data_fix", "title": "Fix size chart", "expected_impact": "low", "confidence": 0.6, "how_to_execute": ["audit", "publish"]},
				{"rank": 3, "action_type": "made_up", "title": "Investigate", "expected_impact": "huge", "confidence": -1}
			],
			"limitations": ["small sample"],
			"next_questions": ["Which SKUs are seasonal?"]
		}` + "\n```"}}

		var fallbacks []string
		r, err := NewRanker(client, WithMaxActions(7), WithFallbackHook(func(op string) { fallbacks = append(fallbacks, op) }))
		require.NoError(t, err)

		out := r.RankActions(context.Background(), rankRequest())
		require.Len(t, out.RankedActions, 3)
		assert.Empty(t, fallbacks)

		first := out.RankedActions[0]
		assert.Equal(t, 1, first.Rank)
		assert.Equal(t, "Fix size chart", first.Title)
		assert.Equal(t, model.ActionDataFix, first.ActionType)
		assert.Equal(t, []string{"audit", "publish"}, first.HowToExecute)
		assert.NotNil(t, first.EvidenceUsed)

		second := out.RankedActions[1]
		assert.Equal(t, 2, second.Rank)
		assert.Equal(t, model.ImpactHigh, second.ExpectedImpact)
		assert.InDelta(t, 1.0, second.Confidence, 1e-9)

		third := out.RankedActions[2]
		assert.Equal(t, model.ActionFurtherAnalysis, third.ActionType)
		assert.Equal(t, model.ImpactMedium, third.ExpectedImpact)
		assert.Zero(t, third.Confidence)

		assert.Equal(t, []string{"small sample"}, out.Limitations)

		require.Len(t, client.requests, 1)
		req := client.requests[0]
		assert.True(t, req.JSONMode)
		assert.Contains(t, req.User, "produce 7 ranked actions")
		assert.Contains(t, req.User, `"business_goal":"Maximize contribution margin"`)
		assert.Contains(t, req.User, "Respect the stated constraints")
		assert.NotContains(t, req.User, "sku_revenue_breakdown")
	})

	t.Run("caps actions", func(t *testing.T) {
		client := &fakeClient{responses: []string{`{"ranked_actions": [
			{"rank": 1, "title": "a"}, {"rank": 2, "title": "b"}, {"rank": 3, "title": "c"}
		]}`}}
		r, err := NewRanker(client, WithMaxActions(2))
		require.NoError(t, err)

		out := r.RankActions(context.Background(), rankRequest())
		require.Len(t, out.RankedActions, 2)
		assert.Equal(t, "b", out.RankedActions[1].Title)
		assert.NotNil(t, out.Limitations)
		assert.NotNil(t, out.NextQuestions)
	})

	failures := []struct {
		name   string
		client Client
	}{
		{"provider error", &fakeClient{err: errors.New("boom")}},
		{"not json", &fakeClient{responses: []string{"I cannot help with that."}}},
		{"schema violation", &fakeClient{responses: []string{`{"ranked_actions": "none"}`}}},
		{"missing title", &fakeClient{responses: []string{`{"ranked_actions": [{"rank": 1}]}`}}},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			var fallbacks []string
			r, err := NewRanker(tt.client, WithFallbackHook(func(op string) { fallbacks = append(fallbacks, op) }))
			require.NoError(t, err)

			out := r.RankActions(context.Background(), rankRequest())
			assert.NotNil(t, out.RankedActions)
			assert.Empty(t, out.RankedActions)
			assert.NotEmpty(t, out.Limitations)
			assert.Equal(t, []string{OpRankActions}, fallbacks)
		})
	}

	t.Run("timeout", func(t *testing.T) {
		r, err := NewRanker(blockingClient{}, WithTimeout(20*time.Millisecond))
		require.NoError(t, err)

		start := time.Now()
		out := r.RankActions(context.Background(), rankRequest())
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Empty(t, out.RankedActions)
		assert.NotEmpty(t, out.Limitations)
	})
}

func TestRanker_ClusterReasons(t *testing.T) {
	sample := []model.ReasonSample{
		{SKU: "A", Reason: "too small", Count: 3},
		{SKU: "B", Reason: "arrived broken", Count: 1},
	}

	t.Run("valid themes", func(t *testing.T) {
		client := &fakeClient{responses: []string{`Here you go: {"themes": [
			{"theme": "Sizing", "examples": ["too small"], "skus_affected": ["A", 42], "severity": 9},
			{"theme": "  ", "severity": 2},
			{"theme": "Damage", "severity": 2.6}
		]}`}}
		r, err := NewRanker(client)
		require.NoError(t, err)

		themes, err := r.ClusterReasons(context.Background(), sample)
		require.NoError(t, err)
		require.Len(t, themes, 2)
		assert.Equal(t, "Sizing", themes[0].Theme)
		assert.Equal(t, []string{"A", "42"}, themes[0].SKUsAffected)
		assert.Equal(t, 5, themes[0].Severity)
		assert.Equal(t, 3, themes[1].Severity)
		assert.NotNil(t, themes[1].Examples)

		require.Len(t, client.requests, 1)
		assert.Contains(t, client.requests[0].User, `"reason":"too small"`)
		assert.Contains(t, client.requests[0].User, "5-8 themes")
	})

	t.Run("malformed", func(t *testing.T) {
		var fallbacks []string
		r, err := NewRanker(&fakeClient{responses: []string{`{"clusters": []}`}},
			WithFallbackHook(func(op string) { fallbacks = append(fallbacks, op) }))
		require.NoError(t, err)

		_, err = r.ClusterReasons(context.Background(), sample)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrMalformedLLMJSON)
		assert.Equal(t, []string{OpClusterReasons}, fallbacks)
	})

	t.Run("empty sample skips call", func(t *testing.T) {
		client := &fakeClient{}
		r, err := NewRanker(client)
		require.NoError(t, err)

		themes, err := r.ClusterReasons(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, themes)
		assert.Empty(t, client.requests)
	})
}

func TestClampSeverity(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{in: -3, want: 1},
		{in: 0.4, want: 1},
		{in: 2.6, want: 3},
		{in: 5, want: 5},
		{in: 9, want: 5},
		{in: 1e300, want: 5},
		{in: -1e300, want: 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampSeverity(tt.in), "severity %v", tt.in)
	}
}
