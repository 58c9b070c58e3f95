package workflow

import "time"

// Status is the lifecycle state of an execution or of a single task.
type Status string

// Execution and task states.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TaskExecution records one task's outcome inside an execution.
type TaskExecution struct {
	TaskID    string     `json:"task_id"`
	Type      TaskType   `json:"type"`
	Status    Status     `json:"status"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts,omitempty"`
	CostUSD   float64    `json:"cost_usd,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Execution is one run of a workflow definition. It is persisted on every
// state transition so a crash always leaves an inspectable record.
type Execution struct {
	ID         string `json:"execution_id"`
	WorkflowID string `json:"workflow_id"`
	ProjectID  string `json:"project_id,omitempty"`
	Status     Status `json:"status"`
	// Reason explains a failed or cancelled outcome; recovery sets it to
	// "interrupted" for executions a previous process left running.
	Reason       string                    `json:"reason,omitempty"`
	Context      map[string]any            `json:"context,omitempty"`
	Tasks        map[string]*TaskExecution `json:"task_executions,omitempty"`
	TotalCostUSD float64                   `json:"total_cost_usd"`
	StartedAt    time.Time                 `json:"started_at"`
	EndedAt      *time.Time                `json:"ended_at,omitempty"`
}

// clone returns a deep copy safe to hand to callers while the run goroutine
// keeps mutating the original.
func (e *Execution) clone() *Execution {
	cp := *e
	if e.Context != nil {
		cp.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			cp.Context[k] = v
		}
	}
	if e.Tasks != nil {
		cp.Tasks = make(map[string]*TaskExecution, len(e.Tasks))
		for id, te := range e.Tasks {
			t := *te
			cp.Tasks[id] = &t
		}
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
