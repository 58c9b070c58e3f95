package config

import "time"

// BudgetConfig sets the global spending limits enforced by the budget gate.
// Projects may override the three limit tiers individually.
type BudgetConfig struct {
	PerTaskLimitUSD float64 `yaml:"per_task_limit_usd"`
	DailyLimitUSD   float64 `yaml:"daily_limit_usd"`
	MonthlyLimitUSD float64 `yaml:"monthly_limit_usd"`
	// WarnThreshold is the fraction of a limit at which a warning alert
	// fires. Requests still pass until the limit itself is exceeded.
	WarnThreshold float64 `yaml:"warn_threshold"`
	// DefaultOutputTokens is assumed for cost estimation when the caller
	// gives no expected output size.
	DefaultOutputTokens int `yaml:"default_output_tokens"`
	// UnknownModelPricing is the conservative rate applied when a recorded
	// model has no pricing entry.
	UnknownModelPricing Pricing `yaml:"unknown_model_pricing"`
}

// DefaultBudgetConfig returns budget settings sized for a small team.
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		PerTaskLimitUSD:     1.0,
		DailyLimitUSD:       20.0,
		MonthlyLimitUSD:     200.0,
		WarnThreshold:       0.80,
		DefaultOutputTokens: 500,
		UnknownModelPricing: Pricing{
			InputUSDPer1K:  0.003,
			OutputUSDPer1K: 0.015,
		},
	}
}

// QuotaConfig caps in-flight work before any money is spent.
type QuotaConfig struct {
	MaxQueueSize      int `yaml:"max_queue_size"`
	PerProjectMax     int `yaml:"per_project_max"`
	PerAgentMax       int `yaml:"per_agent_max"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DefaultQuotaConfig returns the standard concurrency and rate caps.
func DefaultQuotaConfig() *QuotaConfig {
	return &QuotaConfig{
		MaxQueueSize:      100,
		PerProjectMax:     10,
		PerAgentMax:       5,
		RequestsPerMinute: 60,
	}
}

// BreakerConfig tunes the per-agent circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
	HalfOpenAfter    time.Duration `yaml:"half_open_after"`
}

// DefaultBreakerConfig returns the standard breaker tuning: trip after five
// failures inside a minute, probe again after thirty seconds.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		HalfOpenAfter:    30 * time.Second,
	}
}

// RetryConfig tunes the retry executor.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	// JitterFraction widens each delay by a random factor in
	// [1-j, 1+j] so synchronized callers do not retry in lockstep.
	JitterFraction float64 `yaml:"jitter_fraction"`
	// AttemptTimeout bounds a single upstream attempt. Timeout retries run
	// with this doubled.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	// RetryValidation allows a single immediate retry of validation
	// failures, on the chance the request was mangled in transit. A *bool:
	// nil means "use default" (enabled), explicit false disables.
	RetryValidation *bool `yaml:"retry_validation,omitempty"`
}

// ValidationRetryEnabled reports whether validation failures get their one
// immediate retry.
func (c *RetryConfig) ValidationRetryEnabled() bool {
	return c.RetryValidation == nil || *c.RetryValidation
}

// DefaultRetryConfig returns the standard exponential backoff tuning.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       60 * time.Second,
		JitterFraction: 0.10,
		AttemptTimeout: 60 * time.Second,
	}
}

// HeartbeatConfig tunes agent liveness tracking.
type HeartbeatConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	TimeoutAfter  time.Duration `yaml:"timeout_after"`
}

// DefaultHeartbeatConfig returns the standard liveness thresholds: warn
// after five quiet minutes, unregister after thirty.
func DefaultHeartbeatConfig() *HeartbeatConfig {
	return &HeartbeatConfig{
		CheckInterval: 30 * time.Second,
		StaleAfter:    5 * time.Minute,
		TimeoutAfter:  30 * time.Minute,
	}
}

// WorkflowConfig tunes the workflow engine.
type WorkflowConfig struct {
	// Dir holds workflow definition YAML files, one per workflow.
	Dir           string        `yaml:"dir"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

// DefaultWorkflowConfig returns the standard workflow engine settings.
func DefaultWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		Dir:           "workflows",
		MaxConcurrent: 8,
		DrainTimeout:  30 * time.Second,
	}
}
