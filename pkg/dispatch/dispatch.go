// Package dispatch orchestrates each request through the gateway's
// protection layers.
//
// A request passes the quota gate, the budget gate, the router, and the
// invoker, in that order, so work that spends money never starts for a
// request any gate rejected. When the routed agent's circuit is open or no
// agent clears the confidence floor, the ranked fallback is tried exactly
// once. After every completed invocation the budget gate reconciles the
// project's actual spend.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/pkg/backend"
	"github.com/switchyard-ai/switchyard/pkg/breaker"
	"github.com/switchyard-ai/switchyard/pkg/budget"
	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/events"
	"github.com/switchyard-ai/switchyard/pkg/fault"
	"github.com/switchyard-ai/switchyard/pkg/invoker"
	"github.com/switchyard-ai/switchyard/pkg/quota"
	"github.com/switchyard-ai/switchyard/pkg/router"
	"github.com/switchyard-ai/switchyard/pkg/session"
	"github.com/switchyard-ai/switchyard/pkg/workflow"
)

// historyLimit caps how many stored turns are replayed to the backend.
const historyLimit = 50

// Caller abstracts the agent invoker. *invoker.Invoker satisfies it.
type Caller interface {
	Invoke(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error)
}

// Estimate is the caller's optional token forecast for one request.
type Estimate struct {
	Input  int `json:"input,omitempty"`
	Output int `json:"output,omitempty"`
}

// Request is one natural-language task entering the gateway.
type Request struct {
	RequestID  string   `json:"request_id,omitempty"`
	ProjectID  string   `json:"project_id"`
	SessionKey string   `json:"session_key,omitempty"`
	Prompt     string   `json:"prompt"`
	AgentHint  string   `json:"agent_hint,omitempty"`
	Estimate   Estimate `json:"estimate"`
}

// TokenUsage reports the tokens one invocation actually consumed.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Response is the gateway's answer for one dispatched request.
type Response struct {
	RequestID  string     `json:"request_id"`
	SessionKey string     `json:"session_key,omitempty"`
	Agent      string     `json:"agent"`
	Model      string     `json:"model"`
	Text       string     `json:"response"`
	Tokens     TokenUsage `json:"tokens"`
	CostUSD    float64    `json:"cost_usd"`
	Intent     string     `json:"intent,omitempty"`
	Complexity string     `json:"complexity,omitempty"`
	// Fallback is true when the ranked fallback agent served the request.
	Fallback bool `json:"fallback,omitempty"`
}

// Dispatcher owns the request path. It holds every protection component but
// no goroutines; lifecycle belongs to the components themselves.
type Dispatcher struct {
	quota    *quota.Gate
	budget   *budget.Gate
	router   *router.Router
	caller   Caller
	engine   *workflow.Engine
	sessions *session.Store
	agents   *config.AgentRegistry
	bus      *events.Bus
	logger   *slog.Logger
}

// New creates a dispatcher. engine, sessions, and bus may be nil; workflow
// launches then fail, history is skipped, and events are dropped.
func New(
	q *quota.Gate,
	b *budget.Gate,
	r *router.Router,
	caller Caller,
	engine *workflow.Engine,
	sessions *session.Store,
	agents *config.AgentRegistry,
	bus *events.Bus,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		quota:    q,
		budget:   b,
		router:   r,
		caller:   caller,
		engine:   engine,
		sessions: sessions,
		agents:   agents,
		bus:      bus,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch runs one request end to end: admission, budget, routing,
// invocation with a single fallback hop, history append, reconciliation.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fault.New(fault.InvalidInput, "empty prompt")
	}
	if req.ProjectID == "" {
		return nil, fault.New(fault.InvalidInput, "missing project_id")
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	// Admission. The per-agent dimension binds only when the caller pinned
	// an agent; routed agents are bounded by project caps and the breaker.
	release, err := d.quota.Admit(req.ProjectID, req.AgentHint)
	if err != nil {
		return nil, err
	}
	defer release()

	tokensIn, tokensOut := d.budget.EstimateTokens(req.Prompt, req.Estimate.Input, req.Estimate.Output)
	if dec := d.budget.Check(req.ProjectID, d.modelHint(req.AgentHint), tokensIn, tokensOut); dec.Verdict == budget.VerdictReject {
		return nil, budgetFault(dec)
	}

	d.publishTask(events.EventTypeTaskAccepted, events.TaskPayload{
		TaskID:     requestID,
		ProjectID:  req.ProjectID,
		SessionKey: req.SessionKey,
	})

	decision, err := d.route(ctx, req)
	if err != nil {
		d.publishTask(events.EventTypeTaskFailed, events.TaskPayload{
			TaskID:    requestID,
			ProjectID: req.ProjectID,
			Error:     err.Error(),
		})
		return nil, err
	}
	d.publishTask(events.EventTypeTaskRouted, events.TaskPayload{
		TaskID:     requestID,
		ProjectID:  req.ProjectID,
		SessionKey: req.SessionKey,
		AgentID:    decision.Agent,
		Model:      decision.Model,
		Complexity: decision.Complexity.Bucket,
	})

	invReq := &invoker.Request{
		ProjectID: req.ProjectID,
		RequestID: requestID,
		Prompt:    req.Prompt,
		History:   d.history(ctx, req.SessionKey),
	}

	served := decision.Agent
	res, err := d.caller.Invoke(ctx, decision.Agent, invReq)
	usedFallback := false
	if err != nil && decision.Fallback != "" && fallbackWorthy(err) {
		d.logger.Warn("Primary agent unavailable, trying fallback",
			"request_id", requestID, "agent", decision.Agent,
			"fallback", decision.Fallback, "error", err)
		served = decision.Fallback
		usedFallback = true
		res, err = d.caller.Invoke(ctx, decision.Fallback, invReq)
	}
	if err != nil {
		d.publishTask(events.EventTypeTaskFailed, events.TaskPayload{
			TaskID:    requestID,
			ProjectID: req.ProjectID,
			AgentID:   served,
			Error:     err.Error(),
		})
		return nil, err
	}

	d.appendHistory(ctx, req, res)
	d.budget.Reconcile(req.ProjectID)

	d.publishTask(events.EventTypeTaskCompleted, events.TaskPayload{
		TaskID:     requestID,
		ProjectID:  req.ProjectID,
		SessionKey: req.SessionKey,
		AgentID:    res.AgentID,
		Model:      res.Model,
		CostUSD:    res.CostUSD,
	})
	d.logger.Info("Request dispatched",
		"request_id", requestID, "project_id", req.ProjectID,
		"agent", res.AgentID, "model", res.Model, "fallback", usedFallback,
		"tokens_in", res.TokensIn, "tokens_out", res.TokensOut,
		"cost_usd", res.CostUSD, "duration", res.Duration)

	return &Response{
		RequestID:  requestID,
		SessionKey: req.SessionKey,
		Agent:      res.AgentID,
		Model:      res.Model,
		Text:       res.Text,
		Tokens:     TokenUsage{Input: res.TokensIn, Output: res.TokensOut},
		CostUSD:    res.CostUSD,
		Intent:     decision.Intent,
		Complexity: decision.Complexity.Bucket,
		Fallback:   usedFallback,
	}, nil
}

// Route classifies and routes a query without invoking anything.
func (d *Dispatcher) Route(ctx context.Context, sessionKey, query string) (router.Decision, error) {
	return d.router.Route(ctx, sessionKey, query)
}

// ExecuteWorkflow launches a workflow execution after the same admission and
// budget gates a single request passes. The execution itself runs
// asynchronously; the returned snapshot is its pending state.
func (d *Dispatcher) ExecuteWorkflow(ctx context.Context, workflowID, projectID string, vars map[string]any) (*workflow.Execution, error) {
	if workflowID == "" {
		return nil, fault.New(fault.InvalidInput, "missing workflow_id")
	}
	if projectID == "" {
		return nil, fault.New(fault.InvalidInput, "missing project_id")
	}
	if d.engine == nil {
		return nil, fault.New(fault.Internal, "workflow engine not configured")
	}

	release, err := d.quota.Admit(projectID, "")
	if err != nil {
		return nil, err
	}
	defer release()

	// A workflow's true cost is unknowable up front. The launch check prices
	// one nominal call, which keeps halted and exhausted projects from
	// starting new work; each agent_call task is gated individually as it
	// runs.
	tokensIn, tokensOut := d.budget.EstimateTokens("", 0, 0)
	if dec := d.budget.Check(projectID, "", tokensIn, tokensOut); dec.Verdict == budget.VerdictReject {
		return nil, budgetFault(dec)
	}

	return d.engine.Execute(ctx, workflowID, projectID, vars)
}

// route resolves the agent for one request. A hint naming a registered agent
// pins the decision; quota already admitted the hinted agent, so no further
// availability check happens here. Unknown hints fall through to routing.
func (d *Dispatcher) route(ctx context.Context, req *Request) (router.Decision, error) {
	if req.AgentHint != "" {
		if agent, err := d.agents.Get(req.AgentHint); err == nil {
			d.logger.Info("Routing pinned by agent hint",
				"agent", req.AgentHint, "project_id", req.ProjectID)
			return router.Decision{Agent: req.AgentHint, Model: agent.Model, Confidence: 1}, nil
		}
		d.logger.Warn("Agent hint ignored, no such agent",
			"agent", req.AgentHint, "project_id", req.ProjectID)
	}
	return d.router.Route(ctx, req.SessionKey, req.Prompt)
}

// modelHint resolves the model a hinted agent would use, for pre-routing
// cost estimation. Without a hint the budget gate prices at the safe-medium
// default.
func (d *Dispatcher) modelHint(agentHint string) string {
	if agentHint == "" {
		return ""
	}
	agent, err := d.agents.Get(agentHint)
	if err != nil {
		return ""
	}
	return agent.Model
}

// history loads the session's stored turns for the backend. Failures degrade
// to an empty history; the request still runs.
func (d *Dispatcher) history(ctx context.Context, sessionKey string) []backend.Message {
	if sessionKey == "" || d.sessions == nil {
		return nil
	}
	turns, err := d.sessions.History(ctx, sessionKey, historyLimit)
	if err != nil {
		d.logger.Warn("Session history unavailable", "session_key", sessionKey, "error", err)
		return nil
	}
	msgs := make([]backend.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case session.RoleUser:
			msgs = append(msgs, backend.Message{Role: backend.RoleUser, Content: t.Content})
		case session.RoleAssistant:
			msgs = append(msgs, backend.Message{Role: backend.RoleAssistant, Content: t.Content})
		}
	}
	return msgs
}

// appendHistory records the completed exchange. Failed dispatches leave no
// trace in the conversation.
func (d *Dispatcher) appendHistory(ctx context.Context, req *Request, res *invoker.Result) {
	if req.SessionKey == "" || d.sessions == nil {
		return
	}
	// The assistant turn is stamped 1ms after the user turn so the pair
	// stays ordered even when both land on the same clock read.
	now := time.Now().UTC()
	turns := []session.Turn{
		{SessionKey: req.SessionKey, Role: session.RoleUser, Content: req.Prompt, CreatedAt: now},
		{SessionKey: req.SessionKey, Role: session.RoleAssistant, AgentID: res.AgentID, Content: res.Text, CreatedAt: now.Add(time.Millisecond)},
	}
	for _, turn := range turns {
		if err := d.sessions.Append(ctx, turn); err != nil {
			d.logger.Warn("Session append failed",
				"session_key", req.SessionKey, "role", turn.Role, "error", err)
		}
	}
}

func (d *Dispatcher) publishTask(eventType string, payload events.TaskPayload) {
	if d.bus == nil {
		return
	}
	d.bus.PublishTask(eventType, payload)
}

// fallbackWorthy reports whether the ranked fallback should be tried:
// only availability failures qualify, never budget, auth, or input problems.
func fallbackWorthy(err error) bool {
	return fault.IsKind(err, fault.CircuitOpen) || fault.IsKind(err, fault.NoAgentAvailable)
}

// budgetFault converts a rejecting gate decision into the fault surfaced to
// callers, carrying the numbers the response body reports.
func budgetFault(dec budget.Decision) error {
	return fault.Newf(fault.BudgetReject, "budget rejected: %s", dec.Gate).
		WithDetail("gate", dec.Gate).
		WithDetail("estimated_cost", dec.EstimatedCost).
		WithDetail("current_spend", dec.CurrentSpend).
		WithDetail("limit", dec.Limit).
		WithDetail("remaining_budget", dec.Remaining)
}

// Availability maps circuit state to the router's availability signal:
// closed scores full weight, half-open half, open nothing.
func Availability(brk *breaker.Breaker) router.AvailabilityFunc {
	return func(agentID string) float64 {
		switch brk.GetState(agentID).State {
		case breaker.StateOpen:
			return 0
		case breaker.StateHalfOpen:
			return 0.5
		default:
			return 1
		}
	}
}
