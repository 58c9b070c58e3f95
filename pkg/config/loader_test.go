package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchyard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
models:
  haiku:
    provider: anthropic
    pricing:
      input_usd_per_1k_tokens: 0.00025
      output_usd_per_1k_tokens: 0.00125
agents:
  coordinator:
    kind: coordinator
    model: haiku
    skills: [chat, triage]
`

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Equal(t, 1.0, cfg.Budget.PerTaskLimitUSD)
	assert.Equal(t, 20.0, cfg.Budget.DailyLimitUSD)
	assert.Equal(t, 200.0, cfg.Budget.MonthlyLimitUSD)
	assert.Equal(t, 0.80, cfg.Budget.WarnThreshold)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.FailureWindow)
	assert.Equal(t, 30*time.Second, cfg.Breaker.HalfOpenAfter)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.CheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.Heartbeat.StaleAfter)
	assert.Equal(t, 30*time.Minute, cfg.Heartbeat.TimeoutAfter)
	assert.Equal(t, 300*time.Second, cfg.Router.CacheTTL)
	assert.Equal(t, 30, cfg.Router.MediumThreshold)
	assert.Equal(t, 70, cfg.Router.HighThreshold)
	assert.NotEmpty(t, cfg.Router.HighKeywords)

	stats := cfg.Stats()
	assert.Equal(t, 1, stats.Agents)
	assert.Equal(t, 1, stats.Models)
	assert.Equal(t, 0, stats.Projects)
}

func TestLoadOverridesKeepUnsetDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
budget:
  daily_limit_usd: 5
breaker:
  failure_threshold: 9
`))
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Budget.DailyLimitUSD)
	assert.Equal(t, 1.0, cfg.Budget.PerTaskLimitUSD, "unset field keeps default")
	assert.Equal(t, 9, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.FailureWindow)
}

func TestLoadRetentionSection(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.False(t, cfg.Retention.Disabled(), "retention defaults on")
	assert.Equal(t, time.Hour, cfg.Retention.SweepInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.ExecutionMaxAge)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.SessionTurnMaxAge)
	assert.False(t, cfg.Slack.Enabled, "slack defaults off")

	cfg, err = Load(writeConfig(t, minimalConfig+`
retention:
  enabled: false
  sweep_interval: 30m
`))
	require.NoError(t, err)

	assert.True(t, cfg.Retention.Disabled(), "explicit false wins over the default")
	assert.Equal(t, 30*time.Minute, cfg.Retention.SweepInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.ExecutionMaxAge, "unset field keeps default")
}

func TestLoadExpandsEnvironmentReferences(t *testing.T) {
	t.Setenv("TEST_BASE_URL", "http://localhost:9911/v1")

	cfg, err := Load(writeConfig(t, `
models:
  local:
    provider: openai
    base_url: "{{.TEST_BASE_URL}}"
    pricing:
      input_usd_per_1k_tokens: 0.001
      output_usd_per_1k_tokens: 0.002
agents:
  dev:
    kind: developer
    model: local
    skills: [code]
`))
	require.NoError(t, err)

	model, err := cfg.Models.Get("local")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9911/v1", model.BaseURL)
}

func TestLoadUnsetEnvExpandsEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
models:
  local:
    provider: mock
    base_url: "{{.SWITCHYARD_TEST_UNSET_VAR}}"
    pricing:
      input_usd_per_1k_tokens: 0.001
      output_usd_per_1k_tokens: 0.002
agents:
  dev:
    model: local
    skills: [code]
`))
	require.NoError(t, err)

	model, err := cfg.Models.Get("local")
	require.NoError(t, err)
	assert.Empty(t, model.BaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "models: [unclosed"))
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadDefaultsAgentKind(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
models:
  m:
    provider: mock
    pricing:
      input_usd_per_1k_tokens: 0
      output_usd_per_1k_tokens: 0
agents:
  helper:
    model: m
    skills: [chat]
`))
	require.NoError(t, err)

	agent, err := cfg.Agents.Get("helper")
	require.NoError(t, err)
	assert.Equal(t, AgentKindGeneric, agent.Kind)
}

func TestLoadModelIDDefaultsToName(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	model, err := cfg.Models.Get("haiku")
	require.NoError(t, err)
	assert.Equal(t, "haiku", model.ModelID)
}

func TestStorageConfigPaths(t *testing.T) {
	s := &StorageConfig{DataDir: "/var/lib/switchyard"}

	assert.Equal(t, "/var/lib/switchyard/costs.ndjson", s.CostLogPath())
	assert.Equal(t, "/var/lib/switchyard/alerts.ndjson", s.AlertLogPath())
	assert.Equal(t, "/var/lib/switchyard/executions", s.ExecutionsDir())
	assert.Equal(t, "/var/lib/switchyard/sessions.db", s.SessionDBPath())
}
