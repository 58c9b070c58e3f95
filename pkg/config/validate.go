package config

// Validate checks ranges and cross-references across the resolved tree.
// It returns the first problem found as a ValidationError.
func (c *Config) Validate() error {
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validateAgents(); err != nil {
		return err
	}
	if err := c.validateProjects(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	return c.validateRouter()
}

func (c *Config) validateModels() error {
	if c.Models.Len() == 0 {
		return NewValidationError("models", "", "at least one model must be configured")
	}
	for name, model := range c.Models.GetAll() {
		switch model.Provider {
		case ProviderAnthropic, ProviderOpenAI, ProviderMock:
		case "":
			return NewValidationError("models", name, "provider is required")
		default:
			return NewValidationError("models", name, "unknown provider %q", model.Provider)
		}
		if model.Pricing.InputUSDPer1K < 0 || model.Pricing.OutputUSDPer1K < 0 {
			return NewValidationError("models", name, "pricing must not be negative")
		}
		if model.RateLimit.RequestsPerMinute < 0 || model.RateLimit.TokensPerMinute < 0 {
			return NewValidationError("models", name, "rate limits must not be negative")
		}
	}
	return nil
}

func (c *Config) validateAgents() error {
	if c.Agents.Len() == 0 {
		return NewValidationError("agents", "", "at least one agent must be configured")
	}
	agents := c.Agents.GetAll()
	for id, agent := range agents {
		switch agent.Kind {
		case AgentKindCoordinator, AgentKindDeveloper, AgentKindSecurity,
			AgentKindData, AgentKindGeneric:
		default:
			return NewValidationError("agents", id, "unknown kind %q", agent.Kind)
		}
		if agent.Model == "" {
			return NewValidationError("agents", id, "model is required")
		}
		if !c.Models.Has(agent.Model) {
			return NewValidationError("agents", id, "references unknown model %q", agent.Model)
		}
		for _, backup := range agent.BackupAgents {
			if backup == id {
				return NewValidationError("agents", id, "lists itself as a backup")
			}
			if _, ok := agents[backup]; !ok {
				return NewValidationError("agents", id, "references unknown backup agent %q", backup)
			}
		}
		if agent.Temperature != nil && (*agent.Temperature < 0 || *agent.Temperature > 2) {
			return NewValidationError("agents", id, "temperature must be within [0, 2]")
		}
	}
	return nil
}

func (c *Config) validateProjects() error {
	for id, project := range c.Projects.GetAll() {
		for field, limit := range map[string]*float64{
			"per_task_limit_usd": project.PerTaskLimitUSD,
			"daily_limit_usd":    project.DailyLimitUSD,
			"monthly_limit_usd":  project.MonthlyLimitUSD,
		} {
			if limit != nil && *limit <= 0 {
				return NewValidationError("projects", id, "%s must be positive", field)
			}
		}
		if project.MaxConcurrent != nil && *project.MaxConcurrent <= 0 {
			return NewValidationError("projects", id, "max_concurrent must be positive")
		}
		if project.RequestsPerMinute != nil && *project.RequestsPerMinute <= 0 {
			return NewValidationError("projects", id, "requests_per_minute must be positive")
		}
	}
	return nil
}

func (c *Config) validateLimits() error {
	b := c.Budget
	if b.PerTaskLimitUSD <= 0 || b.DailyLimitUSD <= 0 || b.MonthlyLimitUSD <= 0 {
		return NewValidationError("budget", "", "all limits must be positive")
	}
	if b.WarnThreshold <= 0 || b.WarnThreshold > 1 {
		return NewValidationError("budget", "warn_threshold", "must be within (0, 1]")
	}
	if b.DefaultOutputTokens <= 0 {
		return NewValidationError("budget", "default_output_tokens", "must be positive")
	}

	q := c.Quota
	if q.MaxQueueSize <= 0 || q.PerProjectMax <= 0 || q.PerAgentMax <= 0 || q.RequestsPerMinute <= 0 {
		return NewValidationError("quota", "", "all caps must be positive")
	}

	br := c.Breaker
	if br.FailureThreshold < 1 {
		return NewValidationError("breaker", "failure_threshold", "must be at least 1")
	}
	if br.FailureWindow <= 0 || br.HalfOpenAfter <= 0 {
		return NewValidationError("breaker", "", "windows must be positive")
	}

	r := c.Retry
	if r.MaxAttempts < 1 {
		return NewValidationError("retry", "max_attempts", "must be at least 1")
	}
	if r.BaseDelay <= 0 || r.MaxDelay < r.BaseDelay {
		return NewValidationError("retry", "", "delays must be positive and max_delay >= base_delay")
	}
	if r.JitterFraction < 0 || r.JitterFraction >= 1 {
		return NewValidationError("retry", "jitter_fraction", "must be within [0, 1)")
	}
	if r.AttemptTimeout <= 0 {
		return NewValidationError("retry", "attempt_timeout", "must be positive")
	}

	h := c.Heartbeat
	if h.CheckInterval <= 0 {
		return NewValidationError("heartbeat", "check_interval", "must be positive")
	}
	if h.StaleAfter <= h.CheckInterval {
		return NewValidationError("heartbeat", "stale_after", "must exceed check_interval")
	}
	if h.TimeoutAfter <= h.StaleAfter {
		return NewValidationError("heartbeat", "timeout_after", "must exceed stale_after")
	}

	if c.Workflow.MaxConcurrent < 1 {
		return NewValidationError("workflows", "max_concurrent", "must be at least 1")
	}

	if ret := c.Retention; !ret.Disabled() {
		if ret.SweepInterval <= 0 {
			return NewValidationError("retention", "sweep_interval", "must be positive")
		}
		if ret.ExecutionMaxAge <= 0 || ret.SessionTurnMaxAge <= 0 {
			return NewValidationError("retention", "", "max ages must be positive")
		}
	}

	if sl := c.Slack; sl.Enabled {
		if sl.Channel == "" {
			return NewValidationError("slack", "channel", "required when slack is enabled")
		}
		if sl.DedupeWindow < 0 {
			return NewValidationError("slack", "dedupe_window", "must not be negative")
		}
	}
	return nil
}

func (c *Config) validateRouter() error {
	r := c.Router
	if r.CacheTTL < 0 {
		return NewValidationError("router", "cache_ttl", "must not be negative")
	}
	if r.MediumThreshold <= 0 || r.HighThreshold <= r.MediumThreshold || r.HighThreshold > 100 {
		return NewValidationError("router", "", "thresholds must satisfy 0 < medium < high <= 100")
	}
	if r.IntentWeight+r.SkillWeight+r.AvailabilityWeight <= 0 {
		return NewValidationError("router", "", "scoring weights must sum to a positive value")
	}
	for field, floor := range map[string]float64{
		"floor_high":   r.FloorHigh,
		"floor_medium": r.FloorMedium,
		"floor_low":    r.FloorLow,
	} {
		if floor < 0 || floor > 1 {
			return NewValidationError("router", field, "must be within [0, 1]")
		}
	}
	if r.RecencyPenalty <= 0 || r.RecencyPenalty > 1 {
		return NewValidationError("router", "recency_penalty", "must be within (0, 1]")
	}
	return nil
}
