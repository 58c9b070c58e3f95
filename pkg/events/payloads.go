package events

import "time"

// TaskPayload describes a dispatched task's lifecycle position.
type TaskPayload struct {
	TaskID     string  `json:"task_id"`
	ProjectID  string  `json:"project_id,omitempty"`
	SessionKey string  `json:"session_key,omitempty"`
	AgentID    string  `json:"agent_id,omitempty"`
	Model      string  `json:"model,omitempty"`
	Complexity string  `json:"complexity,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// BreakerPayload describes a circuit breaker transition.
type BreakerPayload struct {
	AgentID  string `json:"agent_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Failures int    `json:"failures,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// AgentPayload describes an agent liveness change.
type AgentPayload struct {
	AgentID  string    `json:"agent_id"`
	LastSeen time.Time `json:"last_seen,omitzero"`
	Detail   string    `json:"detail,omitempty"`
}

// BudgetPayload describes a budget gate decision worth broadcasting.
type BudgetPayload struct {
	ProjectID    string  `json:"project_id"`
	Gate         string  `json:"gate,omitempty"`
	CurrentSpend float64 `json:"current_spend"`
	Limit        float64 `json:"limit"`
	Remaining    float64 `json:"remaining"`
}

// WorkflowPayload describes workflow execution progress.
type WorkflowPayload struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	TaskID      string `json:"task_id,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// PublishTask broadcasts a task lifecycle event to the global tasks channel
// and, when the task belongs to a project, to that project's channel.
func (b *Bus) PublishTask(eventType string, payload TaskPayload) {
	b.Publish(eventType, GlobalTasksChannel, payload)
	if payload.ProjectID != "" {
		b.Publish(eventType, ProjectChannel(payload.ProjectID), payload)
	}
}

// PublishBreaker broadcasts a breaker transition on the agents channel.
func (b *Bus) PublishBreaker(payload BreakerPayload) {
	b.Publish(EventTypeBreakerState, GlobalAgentsChannel, payload)
}

// PublishAgent broadcasts an agent liveness event on the agents channel.
func (b *Bus) PublishAgent(eventType string, payload AgentPayload) {
	b.Publish(eventType, GlobalAgentsChannel, payload)
}

// PublishBudget broadcasts a budget event to the global budget channel and
// the owning project's channel.
func (b *Bus) PublishBudget(eventType string, payload BudgetPayload) {
	b.Publish(eventType, GlobalBudgetChannel, payload)
	if payload.ProjectID != "" {
		b.Publish(eventType, ProjectChannel(payload.ProjectID), payload)
	}
}

// PublishWorkflow broadcasts execution progress to the global workflows
// channel and the execution's own channel.
func (b *Bus) PublishWorkflow(eventType string, payload WorkflowPayload) {
	b.Publish(eventType, GlobalWorkflowsChannel, payload)
	if payload.ExecutionID != "" {
		b.Publish(eventType, WorkflowChannel(payload.ExecutionID), payload)
	}
}
