package backend

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

func TestRegistryBuildsMockProvider(t *testing.T) {
	models := config.NewModelRegistry(map[string]config.ModelConfig{
		"local": {Provider: config.ProviderMock},
	})

	r, err := NewRegistry(models, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.True(t, r.Has("local"))
	assert.False(t, r.Has("other"))

	resp, err := r.Invoke(context.Background(), &Request{
		Model:     "local",
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 32,
	})
	require.NoError(t, err)
	assert.Equal(t, "mock response: ping", resp.Text)
}

func TestRegistryRejectsMissingAPIKey(t *testing.T) {
	models := config.NewModelRegistry(map[string]config.ModelConfig{
		"sonnet": {Provider: config.ProviderAnthropic, APIKeyEnv: "SWITCHYARD_TEST_KEY_THAT_DOES_NOT_EXIST"},
	})

	_, err := NewRegistry(models, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sonnet")
}

func TestRegistryUnknownModel(t *testing.T) {
	r, err := NewRegistry(config.NewModelRegistry(nil), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), &Request{Model: "ghost"})
	assert.True(t, fault.IsKind(err, fault.Internal))
}

func TestRateLimiterDisabledByZeroConfig(t *testing.T) {
	l := NewRateLimiter(config.RateLimit{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Wait(ctx, 1_000_000))
}

func TestRateLimiterRejectsBeforeUnreachableDeadline(t *testing.T) {
	l := NewRateLimiter(config.RateLimit{TokensPerMinute: 60})

	// First wait drains the initial burst.
	require.NoError(t, l.Wait(context.Background(), 60))

	// The bucket refills one token per second; 60 more cannot fit in 50ms.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, 60)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.RateLimit))
}

func TestRateLimiterClampsOversizedEstimates(t *testing.T) {
	l := NewRateLimiter(config.RateLimit{TokensPerMinute: 100})

	// An estimate above the burst is clamped to it instead of erroring.
	require.NoError(t, l.Wait(context.Background(), 5_000))
}

func TestMockScriptConsumedInOrder(t *testing.T) {
	boom := fault.New(fault.UpstreamError, "scripted failure")
	m := NewMock(
		MockReply{Err: boom},
		MockReply{Response: &Response{Text: "recovered", TokensIn: 5, TokensOut: 3}},
	)

	_, err := m.Invoke(context.Background(), &Request{})
	assert.ErrorIs(t, err, boom)

	resp, err := m.Invoke(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)

	// Script exhausted: the last reply repeats.
	resp, err = m.Invoke(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, 3, m.Calls())
}

func TestMockDelayHonorsCancellation(t *testing.T) {
	m := NewMock(MockReply{Response: &Response{Text: "late"}, Delay: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Invoke(ctx, &Request{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Timeout))
	assert.Less(t, time.Since(start), time.Second)
}
