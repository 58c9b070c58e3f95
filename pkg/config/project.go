package config

import (
	"fmt"
	"sync"
)

// ProjectConfig holds per-project overrides. Nil fields fall back to the
// global budget and quota settings.
type ProjectConfig struct {
	Description       string   `yaml:"description,omitempty"`
	PerTaskLimitUSD   *float64 `yaml:"per_task_limit_usd,omitempty"`
	DailyLimitUSD     *float64 `yaml:"daily_limit_usd,omitempty"`
	MonthlyLimitUSD   *float64 `yaml:"monthly_limit_usd,omitempty"`
	MaxConcurrent     *int     `yaml:"max_concurrent,omitempty"`
	RequestsPerMinute *int     `yaml:"requests_per_minute,omitempty"`
}

// ProjectRegistry provides thread-safe access to project configurations
// keyed by project ID. Unregistered projects are legal; they run under the
// global defaults.
type ProjectRegistry struct {
	mu       sync.RWMutex
	projects map[string]ProjectConfig
}

// NewProjectRegistry creates a registry from parsed configuration.
func NewProjectRegistry(projects map[string]ProjectConfig) *ProjectRegistry {
	copied := make(map[string]ProjectConfig, len(projects))
	for id, project := range projects {
		copied[id] = project
	}
	return &ProjectRegistry{projects: copied}
}

// Get returns the configuration for the named project.
func (r *ProjectRegistry) Get(id string) (ProjectConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	project, ok := r.projects[id]
	if !ok {
		return ProjectConfig{}, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return project, nil
}

// GetAll returns a copy of all registered projects.
func (r *ProjectRegistry) GetAll() map[string]ProjectConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied := make(map[string]ProjectConfig, len(r.projects))
	for id, project := range r.projects {
		copied[id] = project
	}
	return copied
}

// Has reports whether a project with the given ID is registered.
func (r *ProjectRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.projects[id]
	return ok
}

// Len returns the number of registered projects.
func (r *ProjectRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.projects)
}
