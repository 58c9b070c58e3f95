package config

import (
	"fmt"
	"sync"
)

// AgentKind categorizes what an agent is specialized for. The router uses
// the kind as a coarse filter before scoring skills.
type AgentKind string

const (
	AgentKindCoordinator AgentKind = "coordinator"
	AgentKindDeveloper   AgentKind = "developer"
	AgentKindSecurity    AgentKind = "security"
	AgentKindData        AgentKind = "data"
	AgentKindGeneric     AgentKind = "generic"
)

// AgentConfig declares a dispatchable agent: which model backs it, what it
// is good at, and where to fail over when it is unavailable.
type AgentConfig struct {
	Kind            AgentKind `yaml:"kind"`
	Description     string    `yaml:"description,omitempty"`
	Model           string    `yaml:"model"`
	Skills          []string  `yaml:"skills"`
	BackupAgents    []string  `yaml:"backup_agents,omitempty"`
	SystemPrompt    string    `yaml:"system_prompt,omitempty"`
	MaxOutputTokens int       `yaml:"max_output_tokens,omitempty"`
	Temperature     *float64  `yaml:"temperature,omitempty"`
}

// AgentRegistry provides thread-safe access to agent configurations keyed
// by agent ID.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]AgentConfig
}

// NewAgentRegistry creates a registry from parsed configuration.
// The map is copied so later mutations of the source cannot race readers.
func NewAgentRegistry(agents map[string]AgentConfig) *AgentRegistry {
	copied := make(map[string]AgentConfig, len(agents))
	for id, agent := range agents {
		copied[id] = agent
	}
	return &AgentRegistry{agents: copied}
}

// Get returns the configuration for the named agent.
func (r *AgentRegistry) Get(id string) (AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return AgentConfig{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent, nil
}

// GetAll returns a copy of all registered agents.
func (r *AgentRegistry) GetAll() map[string]AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied := make(map[string]AgentConfig, len(r.agents))
	for id, agent := range r.agents {
		copied[id] = agent
	}
	return copied
}

// Has reports whether an agent with the given ID is registered.
func (r *AgentRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.agents[id]
	return ok
}

// IDs returns the registered agent IDs in unspecified order.
func (r *AgentRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered agents.
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.agents)
}
