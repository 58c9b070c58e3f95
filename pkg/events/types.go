// Package events provides the gateway's in-process event bus and its
// WebSocket bridge.
//
// Components publish typed lifecycle events (task routing, breaker
// transitions, agent liveness, budget alerts, workflow progress) onto the
// Bus. Each channel keeps a bounded replay ring so late WebSocket
// subscribers can catch up on recent history; if a client has missed more
// than the ring holds, it receives a catchup.overflow message telling it to
// reload state over REST instead.
package events

import "time"

// Event types published on the bus.
const (
	EventTypeTaskAccepted  = "task.accepted"
	EventTypeTaskRouted    = "task.routed"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"

	EventTypeBreakerState = "breaker.state"

	EventTypeAgentRegistered   = "agent.registered"
	EventTypeAgentUnregistered = "agent.unregistered"
	EventTypeAgentStale        = "agent.stale"
	EventTypeAgentTimeout      = "agent.timeout"

	EventTypeBudgetWarning  = "budget.warning"
	EventTypeBudgetRejected = "budget.rejected"
	EventTypeBudgetHalted   = "budget.halted"

	EventTypeWorkflowStatus     = "workflow.status"
	EventTypeWorkflowTaskStatus = "workflow.task_status"
)

// Global channels. Per-project and per-execution channels are derived.
const (
	GlobalTasksChannel     = "tasks"
	GlobalAgentsChannel    = "agents"
	GlobalBudgetChannel    = "budget"
	GlobalWorkflowsChannel = "workflows"
)

// ProjectChannel returns the channel carrying one project's task and budget
// events. Format: "project:{project_id}"
func ProjectChannel(projectID string) string {
	return "project:" + projectID
}

// WorkflowChannel returns the channel for a single workflow execution.
// Format: "workflow:{execution_id}"
func WorkflowChannel(executionID string) string {
	return "workflow:" + executionID
}

// Event is the unit delivered to subscribers. Seq increases monotonically
// across all channels and orders replay.
type Event struct {
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "catchup", "ping"
	Channel string `json:"channel,omitempty"` // e.g. "tasks", "workflow:abc-123"
	LastSeq *int64 `json:"last_seq,omitempty"`
}
