// Package invoker executes a single agent invocation end to end: circuit
// admission, liveness tracking, rate-limited backend calls under the retry
// policy, and cost recording.
//
// The contract is exactly one outcome per invocation: a success appends one
// cost event to the ledger and reports success to the breaker, a terminal
// failure reports one failure and propagates a classified fault. A caller
// cancellation records neither; it says nothing about the agent's health,
// so a held half-open probe slot is released instead of reopening the
// circuit.
package invoker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/pkg/backend"
	"github.com/switchyard-ai/switchyard/pkg/breaker"
	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
	"github.com/switchyard-ai/switchyard/pkg/heartbeat"
	"github.com/switchyard-ai/switchyard/pkg/ledger"
	"github.com/switchyard-ai/switchyard/pkg/retry"
)

// defaultMaxOutputTokens bounds output when neither the agent nor the model
// configures a ceiling.
const defaultMaxOutputTokens = 1024

// Request is one agent invocation. History carries prior conversation turns
// in chronological order; Prompt is the new user message.
type Request struct {
	ProjectID string
	RequestID string
	Prompt    string
	History   []backend.Message
}

// Result is the outcome of a successful invocation.
type Result struct {
	AgentID    string        `json:"agent_id"`
	Model      string        `json:"model"`
	RequestID  string        `json:"request_id"`
	Text       string        `json:"text"`
	TokensIn   int           `json:"tokens_in"`
	TokensOut  int           `json:"tokens_out"`
	CostUSD    float64       `json:"cost_usd"`
	StopReason string        `json:"stop_reason,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Invoker drives one agent call through the protection layers.
type Invoker struct {
	agents   *config.AgentRegistry
	models   *config.ModelRegistry
	backends *backend.Registry
	breaker  *breaker.Breaker
	retry    *retry.Executor
	monitor  *heartbeat.Monitor
	ledger   *ledger.Ledger
	logger   *slog.Logger
}

// New wires an invoker. Every dependency is required.
func New(
	agents *config.AgentRegistry,
	models *config.ModelRegistry,
	backends *backend.Registry,
	brk *breaker.Breaker,
	retrier *retry.Executor,
	monitor *heartbeat.Monitor,
	led *ledger.Ledger,
	logger *slog.Logger,
) *Invoker {
	return &Invoker{
		agents:   agents,
		models:   models,
		backends: backends,
		breaker:  brk,
		retry:    retrier,
		monitor:  monitor,
		ledger:   led,
		logger:   logger.With("component", "invoker"),
	}
}

// Invoke runs one agent call. The returned fault carries the kind the API
// layer maps to a status code; callers decide whether a fallback is worth
// trying based on it.
func (inv *Invoker) Invoke(ctx context.Context, agentID string, req *Request) (*Result, error) {
	agent, err := inv.agents.Get(agentID)
	if err != nil {
		return nil, fault.Wrap(fault.NotFound, "unknown agent", err)
	}
	model, err := inv.models.Get(agent.Model)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "agent references unknown model", err)
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	// 1. Circuit admission. Holding probe means this call alone decides the
	// half-open outcome.
	probe, err := inv.breaker.Allow(agentID)
	if err != nil {
		return nil, err
	}

	// 2. Liveness tracking with a cancel hook, so a timed-out activity can
	// be reaped by the monitor.
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	activityID := inv.monitor.Register(agentID, requestID, cancel)
	defer inv.monitor.Unregister(activityID)

	breq := buildRequest(agent, model, req)

	start := time.Now()
	var resp *backend.Response
	err = inv.retry.Do(callCtx, "invoke agent "+agentID, func(attemptCtx context.Context) error {
		inv.monitor.Touch(activityID)
		r, attemptErr := inv.backends.Invoke(attemptCtx, breq)
		inv.monitor.Touch(activityID)
		if attemptErr != nil {
			return attemptErr
		}
		resp = r
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		terminal := fault.Terminal(err)
		if terminal.Kind == fault.Cancelled {
			if probe {
				inv.breaker.ReleaseProbe(agentID)
			}
			return nil, terminal
		}
		inv.breaker.RecordFailure(agentID)
		inv.logger.Warn("Agent invocation failed",
			"agent_id", agentID, "request_id", requestID,
			"kind", terminal.Kind, "duration", duration, "error", terminal)
		return nil, terminal
	}

	cost := costOf(model.Pricing, resp.TokensIn, resp.TokensOut)
	evt := ledger.CostEvent{
		Timestamp: time.Now().UTC(),
		ProjectID: req.ProjectID,
		AgentID:   agentID,
		Model:     agent.Model,
		TokensIn:  int64(resp.TokensIn),
		TokensOut: int64(resp.TokensOut),
		CostUSD:   cost,
		RequestID: requestID,
	}
	if err := inv.ledger.Record(evt); err != nil {
		// The call already spent the money; failing it now would trigger a
		// retry and spend more. Surface loudly and return the result.
		inv.logger.Error("Cost event write failed",
			"agent_id", agentID, "request_id", requestID, "cost_usd", cost, "error", err)
	}
	inv.breaker.RecordSuccess(agentID)

	inv.logger.Info("Agent invocation completed",
		"agent_id", agentID, "request_id", requestID, "model", agent.Model,
		"tokens_in", resp.TokensIn, "tokens_out", resp.TokensOut,
		"cost_usd", cost, "duration", duration)

	return &Result{
		AgentID:    agentID,
		Model:      agent.Model,
		RequestID:  requestID,
		Text:       resp.Text,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		CostUSD:    cost,
		StopReason: resp.StopReason,
		Duration:   duration,
	}, nil
}

// buildRequest assembles the backend request from agent configuration plus
// the caller's prompt and history. The output ceiling falls back from agent
// to model to the package default.
func buildRequest(agent config.AgentConfig, model config.ModelConfig, req *Request) *backend.Request {
	messages := make([]backend.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, backend.Message{Role: backend.RoleUser, Content: req.Prompt})

	maxTokens := agent.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxOutputTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}

	return &backend.Request{
		Model:        agent.Model,
		SystemPrompt: agent.SystemPrompt,
		Messages:     messages,
		MaxTokens:    maxTokens,
		Temperature:  agent.Temperature,
	}
}

// costOf prices actual usage with the model's configured rates.
func costOf(p config.Pricing, tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1000.0*p.InputUSDPer1K + float64(tokensOut)/1000.0*p.OutputUSDPer1K
}
