package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TaskType discriminates the payload of a Task.
type TaskType string

// Supported task types.
const (
	TaskAgentCall   TaskType = "agent_call"
	TaskHTTPCall    TaskType = "http_call"
	TaskConditional TaskType = "conditional"
	TaskParallel    TaskType = "parallel"
	TaskWebhook     TaskType = "webhook"
)

// ErrDefinitionInvalid wraps every definition validation failure.
var ErrDefinitionInvalid = errors.New("workflow definition invalid")

// Task is one step of a workflow. Only the fields matching Type are used;
// Validate rejects tasks missing their type's required fields.
type Task struct {
	ID   string   `yaml:"id"`
	Type TaskType `yaml:"type"`

	// agent_call. Prompt may interpolate {{task_id.output}} and
	// {{context.key}} references.
	Agent  string `yaml:"agent,omitempty"`
	Prompt string `yaml:"prompt,omitempty"`

	// http_call and webhook. URL, Body, and header values are interpolated
	// the same way prompts are.
	URL     string            `yaml:"url,omitempty"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`

	// conditional. An empty branch target falls through to the next task
	// in definition order.
	Condition string `yaml:"condition,omitempty"`
	NextTask  string `yaml:"next_task,omitempty"`
	ElseTask  string `yaml:"else_task,omitempty"`

	// parallel children. Leaf task types only.
	Tasks []Task `yaml:"tasks,omitempty"`

	RetryCount     int  `yaml:"retry_count,omitempty"`
	TimeoutSeconds int  `yaml:"timeout_seconds,omitempty"`
	SkipOnError    bool `yaml:"skip_on_error,omitempty"`
}

// Definition is an immutable workflow: an ordered task list executed top to
// bottom, with conditionals allowed to jump forward.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Tasks       []Task `yaml:"tasks"`
}

// Validate checks structural soundness: unique task ids, required per-type
// fields, parseable conditions, and branch targets that exist and point
// forward so every execution terminates.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrDefinitionInvalid)
	}
	if len(d.Tasks) == 0 {
		return fmt.Errorf("%w: workflow %q has no tasks", ErrDefinitionInvalid, d.ID)
	}

	pos := make(map[string]int, len(d.Tasks))
	seen := make(map[string]bool)
	record := func(id string) error {
		if id == "" {
			return fmt.Errorf("%w: workflow %q: every task needs an id", ErrDefinitionInvalid, d.ID)
		}
		if seen[id] {
			return fmt.Errorf("%w: workflow %q: duplicate task id %q", ErrDefinitionInvalid, d.ID, id)
		}
		seen[id] = true
		return nil
	}

	for i, t := range d.Tasks {
		if err := record(t.ID); err != nil {
			return err
		}
		pos[t.ID] = i
		if t.Type == TaskParallel {
			for _, child := range t.Tasks {
				if err := record(child.ID); err != nil {
					return err
				}
			}
		}
	}

	for i, t := range d.Tasks {
		if err := d.validateTask(t, i, pos, true); err != nil {
			return err
		}
	}
	return nil
}

func (d *Definition) validateTask(t Task, idx int, pos map[string]int, topLevel bool) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: workflow %q: task %q: %s",
			ErrDefinitionInvalid, d.ID, t.ID, fmt.Sprintf(format, args...))
	}

	if t.RetryCount < 0 {
		return fail("retry_count must not be negative")
	}
	if t.TimeoutSeconds < 0 {
		return fail("timeout_seconds must not be negative")
	}

	switch t.Type {
	case TaskAgentCall:
		if t.Agent == "" {
			return fail("agent_call needs an agent")
		}
		if t.Prompt == "" {
			return fail("agent_call needs a prompt")
		}
	case TaskHTTPCall:
		if t.URL == "" {
			return fail("http_call needs a url")
		}
	case TaskWebhook:
		if t.URL == "" {
			return fail("webhook needs a url")
		}
	case TaskConditional:
		if !topLevel {
			return fail("conditional tasks cannot nest inside a parallel group")
		}
		if t.Condition == "" {
			return fail("conditional needs a condition")
		}
		if err := Check(t.Condition); err != nil {
			return fail("condition does not parse: %v", err)
		}
		for _, target := range []string{t.NextTask, t.ElseTask} {
			if target == "" {
				continue
			}
			j, ok := pos[target]
			if !ok {
				return fail("branch target %q is not a top-level task", target)
			}
			if j <= idx {
				return fail("branch target %q must come after the conditional", target)
			}
		}
	case TaskParallel:
		if !topLevel {
			return fail("parallel groups cannot nest")
		}
		if len(t.Tasks) == 0 {
			return fail("parallel group needs children")
		}
		for _, child := range t.Tasks {
			if err := d.validateTask(child, idx, pos, false); err != nil {
				return err
			}
		}
	default:
		return fail("unknown type %q", t.Type)
	}
	return nil
}

// LoadDefinitions reads every .yaml/.yml file in dir, one workflow per file.
// A missing directory yields an empty set so a gateway without workflows
// still starts.
func LoadDefinitions(dir string, logger *slog.Logger) (map[string]*Definition, error) {
	defs := make(map[string]*Definition)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Workflow directory missing, no definitions loaded", "dir", dir)
			return defs, nil
		}
		return nil, fmt.Errorf("read workflow directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read workflow %s: %w", path, err)
		}
		var def Definition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDefinitionInvalid, path, err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if _, dup := defs[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate workflow id %q in %s", ErrDefinitionInvalid, def.ID, entry.Name())
		}
		defs[def.ID] = &def
		logger.Info("Workflow definition loaded",
			"workflow_id", def.ID, "tasks", len(def.Tasks), "file", entry.Name())
	}
	return defs, nil
}
