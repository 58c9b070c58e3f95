package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
	"github.com/switchyard-ai/switchyard/pkg/session"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func testModels() *config.ModelRegistry {
	return config.NewModelRegistry(map[string]config.ModelConfig{
		"haiku":  {Provider: config.ProviderAnthropic, Pricing: config.Pricing{InputUSDPer1K: 0.0008, OutputUSDPer1K: 0.004}},
		"sonnet": {Provider: config.ProviderAnthropic, Pricing: config.Pricing{InputUSDPer1K: 0.003, OutputUSDPer1K: 0.015}},
		"opus":   {Provider: config.ProviderAnthropic, Pricing: config.Pricing{InputUSDPer1K: 0.015, OutputUSDPer1K: 0.075}},
	})
}

func testAgents() map[string]config.AgentConfig {
	return map[string]config.AgentConfig{
		"coordinator": {Kind: config.AgentKindCoordinator, Model: "haiku", Skills: []string{"conversation", "summaries"}},
		"developer":   {Kind: config.AgentKindDeveloper, Model: "sonnet", Skills: []string{"refactor", "architecture", "testing"}},
		"security-analyst": {
			Kind: config.AgentKindSecurity, Model: "opus", Skills: []string{"audit", "vulnerability"},
		},
		"dba":        {Kind: config.AgentKindData, Model: "sonnet", Skills: []string{"sql", "migration"}},
		"generalist": {Kind: config.AgentKindGeneric, Model: "haiku", Skills: []string{"chat"}},
	}
}

func newTestRouter(t *testing.T, agents map[string]config.AgentConfig, avail AvailabilityFunc) (*Router, *testClock) {
	t.Helper()
	if agents == nil {
		agents = testAgents()
	}
	clock := &testClock{now: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
	r := New(config.DefaultRouterConfig(), config.NewAgentRegistry(agents), testModels(), nil, avail, slog.New(slog.DiscardHandler))
	r.now = clock.Now
	return r, clock
}

func TestScoreComplexityDeterministic(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)
	query := "refactor the auth architecture? also, compare postgres vs sqlite in `store.go` ```sql\nselect 1\n```"

	first := r.ScoreComplexity(query, 7)
	for range 100 {
		assert.Equal(t, first, r.ScoreComplexity(query, 7))
	}
}

func TestGreetingScoresLow(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	c := r.ScoreComplexity("hi, thanks!", 0)
	assert.Equal(t, 0, c.Score, "negative signals clamp at zero")
	assert.Equal(t, BucketLow, c.Bucket)
}

func TestDenseKeywordsScoreHigh(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	c := r.ScoreComplexity("refactor the scalable consensus architecture across the distributed pipeline", 0)
	assert.GreaterOrEqual(t, c.Score, 70)
	assert.Equal(t, BucketHigh, c.Bucket)
}

func TestMediumKeywordsScoreMedium(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	// Three medium keywords and no high ones: 22 + 3*10.
	c := r.ScoreComplexity("please fix the bug in the login test", 0)
	assert.Equal(t, 52, c.Score)
	assert.Equal(t, BucketMedium, c.Bucket)
}

func TestMediumBaseReducedAfterHigh(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	with := r.ScoreComplexity("review the security model properly here", 0)
	without := r.ScoreComplexity("review the laundry basket properly here", 0)
	// Alone, "review" contributes 22+10. With "security" present the medium
	// base drops to 8, so the pair adds 30+18 plus 8+10.
	assert.Equal(t, without.Score-32+18, with.Score-30-18)
}

func TestCodeFenceSignal(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	base := "some plain filler text that is long enough here"
	fenced := base + "```\ncode\n```"
	plainScore := r.ScoreComplexity(base+strings.Repeat("x", len("```\ncode\n```")), 0).Score
	fencedScore := r.ScoreComplexity(fenced, 0).Score
	assert.Equal(t, 25, fencedScore-plainScore, "one fence adds its configured weight")
}

func TestInlineCodeSignal(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	base := "explain the function in this snippet pad"
	inline := "explain the function in `this` snippet pad"
	delta := r.ScoreComplexity(inline, 0).Score - r.ScoreComplexity(base+"xx", 0).Score
	assert.Equal(t, 3, delta)
}

func TestFileExtensionSignal(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	base := r.ScoreComplexity("look at the loaderxgo file please", 0).Score
	with := r.ScoreComplexity("look at the loader.go file please", 0).Score
	assert.Equal(t, 3, with-base)
}

func TestQuestionMarksCapped(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	base := "does the gateway handle it all right"
	one := r.ScoreComplexity(base+"?", 0).Score
	many := r.ScoreComplexity(base+strings.Repeat("?", 10), 0).Score
	assert.Equal(t, 3, one-r.ScoreComplexity(base+"x", 0).Score)
	assert.Equal(t, 15, many-r.ScoreComplexity(base+strings.Repeat("x", 10), 0).Score)
}

func TestReasoningPrompts(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	base := r.ScoreComplexity("the cache invalidates on append now", 0).Score
	why := r.ScoreComplexity("why the cache invalidates on append", 0).Score
	whatIf := r.ScoreComplexity("what if the cache invalidates late", 0).Score
	assert.Equal(t, 5, why-base)
	assert.Equal(t, 8, whatIf-base)
}

func TestReasoningWordsNeedBoundaries(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	// "shows" and "however" must not count as "how".
	a := r.ScoreComplexity("the chart shows numbers however rounded", 0).Score
	b := r.ScoreComplexity("the chart paints numbers palette rounded", 0).Score
	assert.Equal(t, a, b)
}

func TestHistoryBoost(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)
	query := "continue with the plan from before ok"

	base := r.ScoreComplexity(query, 0).Score
	assert.Equal(t, base, r.ScoreComplexity(query, 4).Score, "below the turn minimum")
	assert.Equal(t, base+10, r.ScoreComplexity(query, 5).Score)
	assert.Equal(t, base+15, r.ScoreComplexity(query, 40).Score, "boost is capped")
}

func TestClassifyIntent(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	cases := []struct {
		query  string
		intent string
	}{
		{"audit the authentication flow for vulnerability", IntentSecurity},
		{"implement the api and fix the bug", IntentDevelopment},
		{"design the roadmap and milestone schedule", IntentPlanning},
		{"tune the sql query and add an index", IntentDatabase},
		{"hello there friend", IntentGeneral},
		// One security hit against one development hit: priority wins.
		{"audit the code", IntentSecurity},
	}
	for _, tc := range cases {
		t.Run(tc.intent+"/"+tc.query[:10], func(t *testing.T) {
			assert.Equal(t, tc.intent, r.ClassifyIntent(tc.query))
		})
	}
}

func TestRouteEmptyQuery(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	_, err := r.Route(context.Background(), "sess", "")
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
	_, err = r.Route(context.Background(), "sess", "   \n\t")
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestRouteGreetingToCoordinator(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	d, err := r.Route(context.Background(), "sess-1", "hi, thanks!")
	require.NoError(t, err)
	assert.Equal(t, "coordinator", d.Agent)
	assert.Equal(t, "haiku", d.Model, "the coordinator rides the cheapest model")
	assert.Equal(t, IntentGeneral, d.Intent)
	assert.LessOrEqual(t, d.Complexity.Score, 30)
	assert.Equal(t, BucketLow, d.Complexity.Bucket)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
}

func TestRouteHighComplexityToDeveloper(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	d, err := r.Route(context.Background(), "sess-1",
		"refactor the scalable consensus architecture across the distributed pipeline")
	require.NoError(t, err)
	assert.Equal(t, "developer", d.Agent)
	assert.Equal(t, IntentDevelopment, d.Intent)
	assert.Equal(t, BucketHigh, d.Complexity.Bucket)
	assert.GreaterOrEqual(t, d.Confidence, 0.5)
	// Two of the developer's three skills appear in the query.
	assert.InDelta(t, 0.6+0.2+0.1, d.Confidence, 1e-9)
	assert.Empty(t, d.Fallback, "nobody else clears the high-complexity floor")
}

func TestRouteReportsRequiredSkillsAndReason(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	d, err := r.Route(context.Background(), "sess-1",
		"refactor the scalable consensus architecture across the distributed pipeline")
	require.NoError(t, err)
	assert.Equal(t, []string{"architecture", "refactor"}, d.RequiredSkills,
		"every registry skill the query mentions, sorted")
	assert.Contains(t, d.Reason, IntentDevelopment)
	assert.Contains(t, d.Reason, BucketHigh)
	assert.Contains(t, d.Reason, "developer")
}

func TestRouteNoAgentMeetsFloor(t *testing.T) {
	r, _ := newTestRouter(t, map[string]config.AgentConfig{
		"coordinator": {Kind: config.AgentKindCoordinator, Model: "haiku"},
	}, nil)

	_, err := r.Route(context.Background(), "sess-1",
		"refactor the scalable consensus architecture across the distributed pipeline")
	assert.True(t, fault.IsKind(err, fault.NoAgentAvailable))
}

func TestRouteFallbackRanksSecond(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	d, err := r.Route(context.Background(), "sess-1", "hi, thanks!")
	require.NoError(t, err)
	assert.Equal(t, "generalist", d.Fallback)
}

func TestRouteCachedDecisionIsIdentical(t *testing.T) {
	calls := 0
	avail := func(string) float64 {
		calls++
		return 1
	}
	r, _ := newTestRouter(t, nil, avail)
	ctx := context.Background()

	d1, err := r.Route(ctx, "sess-1", "hi, thanks!")
	require.NoError(t, err)
	scored := calls

	d2, err := r.Route(ctx, "sess-1", "hi, thanks!")
	require.NoError(t, err)
	assert.Equal(t, scored, calls, "second route is served from cache")

	b1, err := json.Marshal(d1)
	require.NoError(t, err)
	b2, err := json.Marshal(d2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2, "cached decisions serialize to identical bytes")
}

func TestRouteCacheKeyedBySession(t *testing.T) {
	calls := 0
	avail := func(string) float64 {
		calls++
		return 1
	}
	r, _ := newTestRouter(t, nil, avail)
	ctx := context.Background()

	_, err := r.Route(ctx, "sess-1", "hi, thanks!")
	require.NoError(t, err)
	scored := calls
	_, err = r.Route(ctx, "sess-2", "hi, thanks!")
	require.NoError(t, err)
	assert.Greater(t, calls, scored, "a different session is scored fresh")
}

func TestPurgeCacheForcesRescore(t *testing.T) {
	calls := 0
	avail := func(string) float64 {
		calls++
		return 1
	}
	r, _ := newTestRouter(t, nil, avail)
	ctx := context.Background()

	_, err := r.Route(ctx, "sess-1", "hi, thanks!")
	require.NoError(t, err)
	scored := calls

	r.PurgeCache()
	_, err = r.Route(ctx, "sess-1", "hi, thanks!")
	require.NoError(t, err)
	assert.Greater(t, calls, scored)
}

func TestAvailabilityTipsEqualAgents(t *testing.T) {
	agents := map[string]config.AgentConfig{
		"gen-a": {Kind: config.AgentKindGeneric, Model: "haiku"},
		"gen-b": {Kind: config.AgentKindGeneric, Model: "haiku"},
	}
	avail := func(id string) float64 {
		if id == "gen-a" {
			return 0
		}
		return 1
	}
	r, _ := newTestRouter(t, agents, avail)

	d, err := r.Route(context.Background(), "sess-1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "gen-b", d.Agent)
	assert.Equal(t, "gen-a", d.Fallback)
}

func TestCheaperModelBreaksTies(t *testing.T) {
	agents := map[string]config.AgentConfig{
		"pricey": {Kind: config.AgentKindGeneric, Model: "opus"},
		"frugal": {Kind: config.AgentKindGeneric, Model: "haiku"},
	}
	r, _ := newTestRouter(t, agents, nil)

	d, err := r.Route(context.Background(), "sess-1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "frugal", d.Agent)
	assert.Equal(t, "pricey", d.Fallback)
}

func TestRecencyPenaltyAppliedWithinWindow(t *testing.T) {
	store, err := session.Open(context.Background(),
		filepath.Join(t.TempDir(), "sessions.db"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &testClock{now: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
	r := New(config.DefaultRouterConfig(), config.NewAgentRegistry(testAgents()), testModels(), store, nil, slog.New(slog.DiscardHandler))
	r.now = clock.Now
	ctx := context.Background()

	// The coordinator answered this session thirty seconds ago.
	require.NoError(t, store.Append(ctx, session.Turn{
		SessionKey: "sess-1", Role: session.RoleAssistant, AgentID: "coordinator",
		Content: "done", CreatedAt: clock.Now().Add(-30 * time.Second),
	}))

	d, err := r.Route(ctx, "sess-1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "coordinator", d.Agent, "penalized but still ahead")
	assert.InDelta(t, 0.7*0.7, d.Confidence, 1e-9)

	// Outside the window the penalty does not apply.
	require.NoError(t, store.Append(ctx, session.Turn{
		SessionKey: "sess-2", Role: session.RoleAssistant, AgentID: "coordinator",
		Content: "done", CreatedAt: clock.Now().Add(-2 * time.Minute),
	}))
	d, err = r.Route(ctx, "sess-2", "hello there")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
}
