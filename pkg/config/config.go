// Package config loads and validates the gateway configuration tree:
// agents, models, projects, and the tuning blocks for budget, quota,
// breaker, retry, heartbeat, routing, workflows, storage, and the server.
//
// Configuration is a single YAML file. Environment references written as
// {{.VAR}} are expanded before parsing, user values are merged over
// built-in defaults, and the result is validated before any component
// sees it.
package config

// Config is the fully resolved configuration: every tuning section merged
// with its defaults plus registries for agents, models, and projects.
type Config struct {
	Server    *ServerConfig
	Storage   *StorageConfig
	Budget    *BudgetConfig
	Quota     *QuotaConfig
	Breaker   *BreakerConfig
	Retry     *RetryConfig
	Heartbeat *HeartbeatConfig
	Router    *RouterConfig
	Workflow  *WorkflowConfig
	Retention *RetentionConfig
	Slack     *SlackConfig

	Agents   *AgentRegistry
	Models   *ModelRegistry
	Projects *ProjectRegistry
}

// Stats summarizes registry sizes for startup logging.
type Stats struct {
	Agents   int
	Models   int
	Projects int
}

// Stats returns registry counts.
func (c *Config) Stats() Stats {
	return Stats{
		Agents:   c.Agents.Len(),
		Models:   c.Models.Len(),
		Projects: c.Projects.Len(),
	}
}
