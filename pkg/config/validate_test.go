package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Storage:   DefaultStorageConfig(),
		Budget:    DefaultBudgetConfig(),
		Quota:     DefaultQuotaConfig(),
		Breaker:   DefaultBreakerConfig(),
		Retry:     DefaultRetryConfig(),
		Heartbeat: DefaultHeartbeatConfig(),
		Router:    DefaultRouterConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Retention: DefaultRetentionConfig(),
		Slack:     DefaultSlackConfig(),
		Models: NewModelRegistry(map[string]ModelConfig{
			"m1": {Provider: ProviderMock},
		}),
		Agents: NewAgentRegistry(map[string]AgentConfig{
			"a1": {Kind: AgentKindGeneric, Model: "m1", Skills: []string{"chat"}},
			"a2": {Kind: AgentKindDeveloper, Model: "m1", Skills: []string{"code"}, BackupAgents: []string{"a1"}},
		}),
		Projects: NewProjectRegistry(nil),
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	neg := -1.0
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "no agents",
			mutate:  func(c *Config) { c.Agents = NewAgentRegistry(nil) },
			wantMsg: "at least one agent",
		},
		{
			name:    "no models",
			mutate:  func(c *Config) { c.Models = NewModelRegistry(nil) },
			wantMsg: "at least one model",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Models = NewModelRegistry(map[string]ModelConfig{"m1": {Provider: "cohere"}})
			},
			wantMsg: "unknown provider",
		},
		{
			name: "agent references unknown model",
			mutate: func(c *Config) {
				c.Agents = NewAgentRegistry(map[string]AgentConfig{
					"a1": {Kind: AgentKindGeneric, Model: "ghost"},
				})
			},
			wantMsg: "unknown model",
		},
		{
			name: "agent is its own backup",
			mutate: func(c *Config) {
				c.Agents = NewAgentRegistry(map[string]AgentConfig{
					"a1": {Kind: AgentKindGeneric, Model: "m1", BackupAgents: []string{"a1"}},
				})
			},
			wantMsg: "itself as a backup",
		},
		{
			name: "unknown backup agent",
			mutate: func(c *Config) {
				c.Agents = NewAgentRegistry(map[string]AgentConfig{
					"a1": {Kind: AgentKindGeneric, Model: "m1", BackupAgents: []string{"ghost"}},
				})
			},
			wantMsg: "unknown backup agent",
		},
		{
			name: "negative project limit",
			mutate: func(c *Config) {
				c.Projects = NewProjectRegistry(map[string]ProjectConfig{
					"p1": {DailyLimitUSD: &neg},
				})
			},
			wantMsg: "must be positive",
		},
		{
			name:    "zero budget limit",
			mutate:  func(c *Config) { c.Budget.DailyLimitUSD = 0 },
			wantMsg: "limits must be positive",
		},
		{
			name:    "warn threshold above one",
			mutate:  func(c *Config) { c.Budget.WarnThreshold = 1.2 },
			wantMsg: "warn_threshold",
		},
		{
			name:    "breaker threshold below one",
			mutate:  func(c *Config) { c.Breaker.FailureThreshold = 0 },
			wantMsg: "failure_threshold",
		},
		{
			name:    "retry max below base",
			mutate:  func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 },
			wantMsg: "max_delay",
		},
		{
			name:    "heartbeat stale below check",
			mutate:  func(c *Config) { c.Heartbeat.StaleAfter = c.Heartbeat.CheckInterval },
			wantMsg: "stale_after",
		},
		{
			name:    "heartbeat timeout below stale",
			mutate:  func(c *Config) { c.Heartbeat.TimeoutAfter = c.Heartbeat.StaleAfter },
			wantMsg: "timeout_after",
		},
		{
			name:    "router thresholds inverted",
			mutate:  func(c *Config) { c.Router.HighThreshold = c.Router.MediumThreshold },
			wantMsg: "thresholds",
		},
		{
			name:    "router floor out of range",
			mutate:  func(c *Config) { c.Router.FloorHigh = 1.5 },
			wantMsg: "floor_high",
		},
		{
			name:    "retention zero sweep interval",
			mutate:  func(c *Config) { c.Retention.SweepInterval = 0 },
			wantMsg: "sweep_interval",
		},
		{
			name:    "retention zero max age",
			mutate:  func(c *Config) { c.Retention.ExecutionMaxAge = 0 },
			wantMsg: "max ages",
		},
		{
			name: "slack enabled without channel",
			mutate: func(c *Config) {
				c.Slack.Enabled = true
				c.Slack.Channel = ""
			},
			wantMsg: "channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
