package config

import "time"

// RetentionConfig controls the background sweeper that prunes old
// persisted state. All sweeps are idempotent.
type RetentionConfig struct {
	// Enabled is a *bool: nil means "use default" (enabled), explicit
	// false disables the sweeper.
	Enabled *bool `yaml:"enabled,omitempty"`

	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ExecutionMaxAge is the maximum age of a finished workflow execution
	// before its state and log files are removed. Running executions are
	// never touched.
	ExecutionMaxAge time.Duration `yaml:"execution_max_age"`

	// SessionTurnMaxAge is the maximum age of a conversation turn before
	// it is deleted from the session store.
	SessionTurnMaxAge time.Duration `yaml:"session_turn_max_age"`
}

// Disabled returns true only when Enabled is explicitly set to false.
func (c *RetentionConfig) Disabled() bool {
	return c.Enabled != nil && !*c.Enabled
}

// DefaultRetentionConfig returns the built-in retention defaults: sweep
// hourly, keep executions a week and conversation turns thirty days.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SweepInterval:     1 * time.Hour,
		ExecutionMaxAge:   7 * 24 * time.Hour,
		SessionTurnMaxAge: 30 * 24 * time.Hour,
	}
}

// BoolPtr returns a pointer to b, for setting optional toggles.
func BoolPtr(b bool) *bool { return &b }

// SlackConfig holds Slack alert notification settings. Notifications are
// disabled unless Enabled is set and both the token and channel resolve.
type SlackConfig struct {
	Enabled bool `yaml:"enabled"`
	// TokenEnv names the environment variable holding the bot token.
	TokenEnv string `yaml:"token_env"`
	// Channel is the Slack channel ID to post to (e.g. "C12345678").
	Channel string `yaml:"channel"`
	// DedupeWindow suppresses repeat notifications that render to the
	// same message within the window.
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

// DefaultSlackConfig returns the built-in Slack settings. Disabled by
// default; the token comes from SWITCHYARD_SLACK_TOKEN when enabled.
func DefaultSlackConfig() *SlackConfig {
	return &SlackConfig{
		Enabled:      false,
		TokenEnv:     "SWITCHYARD_SLACK_TOKEN",
		DedupeWindow: 10 * time.Minute,
	}
}
