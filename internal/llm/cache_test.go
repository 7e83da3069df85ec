package llm

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCache(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newResponseCache(time.Minute)
	c.now = func() time.Time { return now }

	c.set("k", "v")
	got, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	now = now.Add(2 * time.Minute)
	_, ok = c.get("k")
	assert.False(t, ok, "expired entries are not returned")

	c.set("other", "x")
	assert.Equal(t, 1, c.size(), "expired entries are pruned on write")
}

func TestRanker_CachesAcceptedResponses(t *testing.T) {
	sample := []model.ReasonSample{{SKU: "A", Reason: "too small", Count: 3}}
	ctx := context.Background()

	t.Run("valid themes are reused", func(t *testing.T) {
		client := &fakeClient{responses: []string{`{"themes": [{"theme": "Sizing", "severity": 3}]}`}}
		r, err := NewRanker(client, WithCacheTTL(time.Minute))
		require.NoError(t, err)

		first, err := r.ClusterReasons(ctx, sample)
		require.NoError(t, err)
		second, err := r.ClusterReasons(ctx, sample)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Len(t, client.requests, 1)
	})

	t.Run("schema violations are not cached", func(t *testing.T) {
		client := &fakeClient{responses: []string{
			`{"clusters": []}`,
			`{"themes": [{"theme": "Sizing", "severity": 3}]}`,
		}}
		r, err := NewRanker(client, WithCacheTTL(time.Minute))
		require.NoError(t, err)

		_, err = r.ClusterReasons(ctx, sample)
		require.ErrorIs(t, err, common.ErrMalformedLLMJSON)

		themes, err := r.ClusterReasons(ctx, sample)
		require.NoError(t, err)
		require.Len(t, themes, 1)
		assert.Equal(t, "Sizing", themes[0].Theme)
		assert.Len(t, client.requests, 2)
	})

	t.Run("rejected rankings are retried", func(t *testing.T) {
		client := &fakeClient{responses: []string{
			`{"ranked_actions": "none"}`,
			`{"ranked_actions": [{"rank": 1, "title": "Fix sizing chart"}]}`,
		}}
		r, err := NewRanker(client, WithCacheTTL(time.Minute))
		require.NoError(t, err)

		failed := r.RankActions(ctx, rankRequest())
		assert.Empty(t, failed.RankedActions)

		out := r.RankActions(ctx, rankRequest())
		require.Len(t, out.RankedActions, 1)
		again := r.RankActions(ctx, rankRequest())
		assert.Equal(t, out, again)
		assert.Len(t, client.requests, 2)
	})

	t.Run("disabled without a ttl", func(t *testing.T) {
		client := &fakeClient{responses: []string{
			`{"themes": [{"theme": "Sizing", "severity": 3}]}`,
			`{"themes": [{"theme": "Fit", "severity": 2}]}`,
		}}
		r, err := NewRanker(client, WithCacheTTL(0))
		require.NoError(t, err)

		_, err = r.ClusterReasons(ctx, sample)
		require.NoError(t, err)
		themes, err := r.ClusterReasons(ctx, sample)
		require.NoError(t, err)
		assert.Equal(t, "Fit", themes[0].Theme)
		assert.Len(t, client.requests, 2)
	})
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, cacheKey(Request{System: "a", User: "b"}), cacheKey(Request{System: "a", User: "b"}))
	assert.NotEqual(t, cacheKey(Request{System: "ab", User: ""}), cacheKey(Request{System: "a", User: "b"}))
	assert.NotEqual(t, cacheKey(Request{User: "b"}), cacheKey(Request{User: "b", JSONMode: true}))
}
