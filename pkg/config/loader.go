package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML tree on disk. Tuning sections are pointers so
// an absent section falls through to defaults untouched.
type fileConfig struct {
	Server    *ServerConfig            `yaml:"server,omitempty"`
	Storage   *StorageConfig           `yaml:"storage,omitempty"`
	Budget    *BudgetConfig            `yaml:"budget,omitempty"`
	Quota     *QuotaConfig             `yaml:"quota,omitempty"`
	Breaker   *BreakerConfig           `yaml:"breaker,omitempty"`
	Retry     *RetryConfig             `yaml:"retry,omitempty"`
	Heartbeat *HeartbeatConfig         `yaml:"heartbeat,omitempty"`
	Router    *RouterConfig            `yaml:"router,omitempty"`
	Workflow  *WorkflowConfig          `yaml:"workflows,omitempty"`
	Retention *RetentionConfig         `yaml:"retention,omitempty"`
	Slack     *SlackConfig             `yaml:"slack,omitempty"`
	Models    map[string]ModelConfig   `yaml:"models,omitempty"`
	Agents    map[string]AgentConfig   `yaml:"agents,omitempty"`
	Projects  map[string]ProjectConfig `yaml:"projects,omitempty"`
}

// Load reads the configuration file at path, expands environment
// references, merges user values over built-in defaults, builds the
// registries, and validates the result.
func Load(path string) (*Config, error) {
	// 1. Read, expand, and parse the tree.
	var file fileConfig
	if err := loadYAML(path, &file); err != nil {
		return nil, err
	}

	// 2. Merge each tuning section over its defaults.
	server, err := mergeSection(DefaultServerConfig(), file.Server, "server")
	if err != nil {
		return nil, err
	}
	storage, err := mergeSection(DefaultStorageConfig(), file.Storage, "storage")
	if err != nil {
		return nil, err
	}
	budget, err := mergeSection(DefaultBudgetConfig(), file.Budget, "budget")
	if err != nil {
		return nil, err
	}
	quota, err := mergeSection(DefaultQuotaConfig(), file.Quota, "quota")
	if err != nil {
		return nil, err
	}
	breaker, err := mergeSection(DefaultBreakerConfig(), file.Breaker, "breaker")
	if err != nil {
		return nil, err
	}
	retry, err := mergeSection(DefaultRetryConfig(), file.Retry, "retry")
	if err != nil {
		return nil, err
	}
	heartbeat, err := mergeSection(DefaultHeartbeatConfig(), file.Heartbeat, "heartbeat")
	if err != nil {
		return nil, err
	}
	router, err := mergeSection(DefaultRouterConfig(), file.Router, "router")
	if err != nil {
		return nil, err
	}
	workflow, err := mergeSection(DefaultWorkflowConfig(), file.Workflow, "workflows")
	if err != nil {
		return nil, err
	}
	retention, err := mergeSection(DefaultRetentionConfig(), file.Retention, "retention")
	if err != nil {
		return nil, err
	}
	slack, err := mergeSection(DefaultSlackConfig(), file.Slack, "slack")
	if err != nil {
		return nil, err
	}

	// 3. Normalize agent defaults before freezing the registries.
	for id, agent := range file.Agents {
		if agent.Kind == "" {
			agent.Kind = AgentKindGeneric
			file.Agents[id] = agent
		}
	}

	cfg := &Config{
		Server:    server,
		Storage:   storage,
		Budget:    budget,
		Quota:     quota,
		Breaker:   breaker,
		Retry:     retry,
		Heartbeat: heartbeat,
		Router:    router,
		Workflow:  workflow,
		Retention: retention,
		Slack:     slack,
		Agents:    NewAgentRegistry(file.Agents),
		Models:    NewModelRegistry(file.Models),
		Projects:  NewProjectRegistry(file.Projects),
	}

	// 4. Validate ranges and cross-references.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML reads a YAML file into out after environment expansion.
func loadYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return &LoadError{Path: path, Err: err}
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return &LoadError{Path: path, Err: err}
	}

	if err := yaml.Unmarshal(expanded, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}
	return nil
}

// expandEnv substitutes {{.VAR}} references with environment values.
// Template syntax is used instead of $VAR so YAML values containing shell
// snippets or regex dollar anchors pass through untouched. Unset variables
// expand to the empty string.
func expandEnv(raw []byte) ([]byte, error) {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("expand environment references: %w", err)
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return nil, fmt.Errorf("expand environment references: %w", err)
	}
	return buf.Bytes(), nil
}

// mergeSection overlays user-provided values onto a defaults struct.
// Zero-valued user fields keep the default.
func mergeSection[T any](defaults *T, user *T, section string) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge %s config: %w", section, err)
	}
	return defaults, nil
}
