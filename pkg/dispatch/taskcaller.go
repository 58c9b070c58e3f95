package dispatch

import (
	"context"
	"log/slog"

	"github.com/switchyard-ai/switchyard/pkg/budget"
	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/invoker"
)

// TaskCaller gates workflow agent calls the way Dispatch gates single
// requests: budget check before the invoker, reconciliation after. The
// workflow engine runs its tasks through this instead of the bare invoker,
// so a project that halts mid-workflow stops spending at the next task.
// Quota is not re-checked here; the launch was admitted and execution
// concurrency is the engine's own limit.
type TaskCaller struct {
	budget *budget.Gate
	agents *config.AgentRegistry
	caller Caller
	logger *slog.Logger
}

// NewTaskCaller wraps the invoker with per-task budget enforcement.
func NewTaskCaller(b *budget.Gate, agents *config.AgentRegistry, caller Caller, logger *slog.Logger) *TaskCaller {
	return &TaskCaller{
		budget: b,
		agents: agents,
		caller: caller,
		logger: logger.With("component", "task_caller"),
	}
}

// Invoke checks the project's budget against this task's estimate, runs the
// agent, and reconciles actual spend afterwards.
func (c *TaskCaller) Invoke(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
	model := ""
	if agent, err := c.agents.Get(agentID); err == nil {
		model = agent.Model
	}

	tokensIn, tokensOut := c.budget.EstimateTokens(req.Prompt, 0, 0)
	if dec := c.budget.Check(req.ProjectID, model, tokensIn, tokensOut); dec.Verdict == budget.VerdictReject {
		c.logger.Info("Workflow task stopped by budget gate",
			"project_id", req.ProjectID, "agent", agentID, "gate", dec.Gate)
		return nil, budgetFault(dec)
	}

	res, err := c.caller.Invoke(ctx, agentID, req)
	if err != nil {
		return nil, err
	}
	c.budget.Reconcile(req.ProjectID)
	return res, nil
}
