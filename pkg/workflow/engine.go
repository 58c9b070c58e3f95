// Package workflow executes declarative multi-task plans.
//
// Definitions are YAML files, one workflow per file, loaded at startup. An
// execution walks its tasks in definition order: agent_call steps go through
// the invoker's full protection stack, http_call and webhook steps make
// bounded outbound requests, conditional steps jump forward based on a
// restricted expression, and parallel groups run their children
// concurrently. Every state transition is persisted atomically so a crash
// leaves inspectable records; executions interrupted by a restart are marked
// failed on the next start, never silently restarted.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/events"
	"github.com/switchyard-ai/switchyard/pkg/fault"
	"github.com/switchyard-ai/switchyard/pkg/invoker"
)

// Caller abstracts the agent invoker so engine tests can script outcomes.
type Caller interface {
	Invoke(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error)
}

// maxResponseBytes bounds how much of an http_call response body is kept as
// task output.
const maxResponseBytes = 1 << 20

// httpClientTimeout bounds a single outbound http_call or webhook request on
// top of the task's own timeout.
const httpClientTimeout = 30 * time.Second

// Engine runs workflow executions.
type Engine struct {
	cfg    *config.WorkflowConfig
	defs   map[string]*Definition
	store  *Store
	caller Caller
	bus    *events.Bus
	client *http.Client
	logger *slog.Logger

	// retryBase is the first backoff step between task attempts; each
	// further attempt doubles it.
	retryBase time.Duration

	// Execution cancel registry: execution_id → cancel function.
	mu        sync.RWMutex
	running   map[string]context.CancelFunc
	recovered []string

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine wires a workflow engine over the loaded definitions.
func NewEngine(
	cfg *config.WorkflowConfig,
	defs map[string]*Definition,
	store *Store,
	caller Caller,
	bus *events.Bus,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		defs:      defs,
		store:     store,
		caller:    caller,
		bus:       bus,
		client:    &http.Client{Timeout: httpClientTimeout},
		logger:    logger.With("component", "workflow_engine"),
		retryBase: time.Second,
		running:   make(map[string]context.CancelFunc),
		stopCh:    make(chan struct{}),
	}
}

// runState is the mutable state of one executing workflow. Parallel children
// share it; mu serializes task recording and persistence. The outputs map is
// only written between groups, from the run goroutine.
type runState struct {
	exec    *Execution
	outputs map[string]string
	lookup  func(string) (string, bool)
	mu      sync.Mutex
}

// Execute starts an asynchronous run of the named workflow. The returned
// snapshot is already persisted as pending; the run proceeds on a background
// goroutine detached from the caller's context and is observed through
// Status and Logs.
func (e *Engine) Execute(ctx context.Context, workflowID, projectID string, vars map[string]any) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.Terminal(err)
	}
	def, ok := e.defs[workflowID]
	if !ok {
		return nil, fault.Newf(fault.NotFound, "unknown workflow %q", workflowID)
	}
	select {
	case <-e.stopCh:
		return nil, fault.New(fault.Internal, "workflow engine is shutting down")
	default:
	}

	exec := &Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		ProjectID:  projectID,
		Status:     StatusPending,
		Context:    vars,
		Tasks:      make(map[string]*TaskExecution, len(def.Tasks)),
		StartedAt:  time.Now().UTC(),
	}

	e.mu.Lock()
	if e.cfg.MaxConcurrent > 0 && len(e.running) >= e.cfg.MaxConcurrent {
		e.mu.Unlock()
		return nil, fault.Newf(fault.QuotaReject,
			"workflow concurrency limit reached (%d running)", e.cfg.MaxConcurrent).
			WithDetail("max_concurrent", e.cfg.MaxConcurrent)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.running[exec.ID] = cancel
	e.mu.Unlock()

	if err := e.store.Save(exec); err != nil {
		e.unregister(exec.ID)
		return nil, fault.Wrap(fault.Internal, "persist execution", err)
	}

	e.logger.Info("Workflow execution started",
		"execution_id", exec.ID, "workflow_id", workflowID, "project_id", projectID)

	// Snapshot before the run goroutine starts mutating the execution.
	snapshot := exec.clone()
	e.wg.Add(1)
	go e.run(runCtx, exec, def)

	return snapshot, nil
}

// run walks the definition's tasks. It is the single writer of exec outside
// parallel groups.
func (e *Engine) run(ctx context.Context, exec *Execution, def *Definition) {
	defer e.wg.Done()
	defer e.unregister(exec.ID)

	rs := &runState{
		exec:    exec,
		outputs: make(map[string]string, len(def.Tasks)),
	}
	rs.lookup = resolver(exec.Context, rs.outputs)

	e.transition(exec, StatusRunning, "")
	e.log(exec.ID, "", "info", fmt.Sprintf("workflow %s started with %d tasks", def.ID, len(def.Tasks)))

	byID := make(map[string]int, len(def.Tasks))
	for i, t := range def.Tasks {
		byID[t.ID] = i
	}

	i := 0
	for i < len(def.Tasks) {
		if ctx.Err() != nil {
			e.finish(rs, StatusCancelled, "cancelled")
			return
		}
		task := def.Tasks[i]

		switch task.Type {
		case TaskConditional:
			next, err := e.branch(rs, task, byID, i)
			if err != nil {
				if task.SkipOnError {
					i++
					continue
				}
				e.finish(rs, StatusFailed, fmt.Sprintf("task %s: %v", task.ID, err))
				return
			}
			i = next

		case TaskParallel:
			failure := e.runGroup(ctx, rs, task)
			if ctx.Err() != nil {
				e.finish(rs, StatusCancelled, "cancelled")
				return
			}
			if failure != "" {
				e.finish(rs, StatusFailed, failure)
				return
			}
			i++

		default:
			te := e.runTask(ctx, rs, task)
			if ctx.Err() != nil {
				e.finish(rs, StatusCancelled, "cancelled")
				return
			}
			if te.Status == StatusCompleted {
				rs.outputs[task.ID] = te.Output
			} else if !task.SkipOnError {
				e.finish(rs, StatusFailed, fmt.Sprintf("task %s: %s", task.ID, te.Error))
				return
			}
			i++
		}
	}

	e.finish(rs, StatusCompleted, "")
}

// branch evaluates a conditional task and returns the index to continue
// from. The decision is recorded as the task's output.
func (e *Engine) branch(rs *runState, task Task, byID map[string]int, idx int) (int, error) {
	te := TaskExecution{
		TaskID:    task.ID,
		Type:      task.Type,
		Attempts:  1,
		StartedAt: time.Now().UTC(),
	}

	met, err := Eval(task.Condition, rs.lookup)
	now := time.Now().UTC()
	te.EndedAt = &now
	if err != nil {
		te.Status = StatusFailed
		te.Error = err.Error()
		e.record(rs, te)
		e.taskEvent(rs.exec, te)
		e.log(rs.exec.ID, task.ID, "error", fmt.Sprintf("condition %q: %v", task.Condition, err))
		return 0, fmt.Errorf("evaluate condition: %w", err)
	}
	te.Status = StatusCompleted
	te.Output = strconv.FormatBool(met)
	e.record(rs, te)
	e.taskEvent(rs.exec, te)

	target := task.NextTask
	if !met {
		target = task.ElseTask
	}
	e.log(rs.exec.ID, task.ID, "info", fmt.Sprintf("condition %q is %t", task.Condition, met))
	if target == "" {
		return idx + 1, nil
	}
	return byID[target], nil
}

// runGroup runs a parallel task's children concurrently. A failing child
// never aborts its siblings: every child runs to its own completion, and the
// group is judged afterwards against each child's skip_on_error. Returns a
// failure description, or "" when the group passes.
func (e *Engine) runGroup(ctx context.Context, rs *runState, group Task) string {
	gte := TaskExecution{
		TaskID:    group.ID,
		Type:      group.Type,
		Status:    StatusRunning,
		Attempts:  1,
		StartedAt: time.Now().UTC(),
	}
	e.record(rs, gte)
	e.log(rs.exec.ID, group.ID, "info", fmt.Sprintf("parallel group started with %d children", len(group.Tasks)))

	results := make([]TaskExecution, len(group.Tasks))
	var g errgroup.Group
	for i, child := range group.Tasks {
		g.Go(func() error {
			results[i] = e.runTask(ctx, rs, child)
			return nil
		})
	}
	_ = g.Wait()

	var failure string
	for i, child := range group.Tasks {
		te := results[i]
		if te.Status == StatusCompleted {
			rs.outputs[child.ID] = te.Output
		} else if failure == "" && !child.SkipOnError {
			failure = fmt.Sprintf("task %s: %s", child.ID, te.Error)
		}
	}

	now := time.Now().UTC()
	gte.EndedAt = &now
	if failure != "" {
		gte.Status = StatusFailed
		gte.Error = failure
	} else {
		gte.Status = StatusCompleted
	}
	e.record(rs, gte)
	e.taskEvent(rs.exec, gte)
	return failure
}

// runTask executes one leaf task under its timeout and retry policy. The
// returned record has already been stored on the execution.
func (e *Engine) runTask(ctx context.Context, rs *runState, task Task) TaskExecution {
	te := TaskExecution{
		TaskID:    task.ID,
		Type:      task.Type,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	e.record(rs, te)
	e.taskEvent(rs.exec, te)
	e.log(rs.exec.ID, task.ID, "info", string(task.Type)+" started")

	taskCtx := ctx
	if task.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	var (
		output string
		cost   float64
		err    error
	)
	for attempt := 1; attempt <= task.RetryCount+1; attempt++ {
		te.Attempts = attempt
		output, cost, err = e.executeOnce(taskCtx, rs, task)
		if err == nil || taskCtx.Err() != nil || attempt > task.RetryCount {
			break
		}
		delay := e.retryBase << (attempt - 1)
		e.log(rs.exec.ID, task.ID, "warn",
			fmt.Sprintf("attempt %d failed, retrying in %s: %v", attempt, delay, err))
		select {
		case <-taskCtx.Done():
		case <-time.After(delay):
		}
	}

	now := time.Now().UTC()
	te.EndedAt = &now
	te.CostUSD = cost
	if err != nil {
		te.Status = StatusFailed
		te.Error = err.Error()
		e.record(rs, te)
		e.taskEvent(rs.exec, te)
		e.log(rs.exec.ID, task.ID, "error",
			fmt.Sprintf("%s failed after %d attempts: %v", task.Type, te.Attempts, err))
		return te
	}
	te.Status = StatusCompleted
	te.Output = output
	e.record(rs, te)
	e.taskEvent(rs.exec, te)
	e.log(rs.exec.ID, task.ID, "info", string(task.Type)+" completed")
	return te
}

// executeOnce performs a single attempt of a leaf task.
func (e *Engine) executeOnce(ctx context.Context, rs *runState, task Task) (string, float64, error) {
	switch task.Type {
	case TaskAgentCall:
		return e.callAgent(ctx, rs, task)
	case TaskHTTPCall:
		out, err := e.callHTTP(ctx, rs, task)
		return out, 0, err
	case TaskWebhook:
		return e.callWebhook(ctx, rs, task), 0, nil
	default:
		return "", 0, fault.Newf(fault.Internal, "task %s: unexpected type %q", task.ID, task.Type)
	}
}

// callAgent invokes the target agent with the interpolated prompt. Every
// agent call in a run shares the execution id as its request id, so the cost
// ledger can total a workflow across its tasks.
func (e *Engine) callAgent(ctx context.Context, rs *runState, task Task) (string, float64, error) {
	prompt, missing := interpolate(task.Prompt, rs.lookup)
	e.warnMissing(rs, task, missing)

	res, err := e.caller.Invoke(ctx, task.Agent, &invoker.Request{
		ProjectID: rs.exec.ProjectID,
		RequestID: rs.exec.ID,
		Prompt:    prompt,
	})
	if err != nil {
		return "", 0, err
	}
	return res.Text, res.CostUSD, nil
}

// callHTTP performs an outbound http_call. The response body, truncated at
// maxResponseBytes, becomes the task output; any status >= 400 fails the
// attempt.
func (e *Engine) callHTTP(ctx context.Context, rs *runState, task Task) (string, error) {
	url, missingURL := interpolate(task.URL, rs.lookup)
	body, missingBody := interpolate(task.Body, rs.lookup)
	e.warnMissing(rs, task, append(missingURL, missingBody...))

	method := strings.ToUpper(task.Method)
	if method == "" {
		method = http.MethodGet
		if body != "" {
			method = http.MethodPost
		}
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", fault.Wrap(fault.InvalidInput, "build http request", err)
	}
	for k, v := range task.Headers {
		hv, _ := interpolate(v, rs.lookup)
		req.Header.Set(k, hv)
	}
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fault.Terminal(ctx.Err())
		}
		return "", fault.Wrap(fault.UpstreamError, "http call", err).WithClass(fault.ClassConnection)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fault.Wrap(fault.UpstreamError, "read http response", err)
	}
	if resp.StatusCode >= 400 {
		return "", fault.FromStatus(resp.StatusCode, fmt.Sprintf("http call returned %s", resp.Status), nil)
	}
	return string(data), nil
}

// callWebhook fires a POST and forgets it. Delivery problems are logged on
// the execution but never fail the task.
func (e *Engine) callWebhook(ctx context.Context, rs *runState, task Task) string {
	url, missingURL := interpolate(task.URL, rs.lookup)
	body, missingBody := interpolate(task.Body, rs.lookup)
	e.warnMissing(rs, task, append(missingURL, missingBody...))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		e.log(rs.exec.ID, task.ID, "warn", fmt.Sprintf("webhook request invalid: %v", err))
		return ""
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range task.Headers {
		hv, _ := interpolate(v, rs.lookup)
		req.Header.Set(k, hv)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.log(rs.exec.ID, task.ID, "warn", fmt.Sprintf("webhook delivery failed: %v", err))
		return ""
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		e.log(rs.exec.ID, task.ID, "warn", fmt.Sprintf("webhook returned status %d", resp.StatusCode))
		return ""
	}
	return "delivered"
}

// record stores a snapshot of the task state on the execution and persists
// it. Safe for concurrent use by parallel children; cost is accumulated once
// per task, when it reaches a terminal state.
func (e *Engine) record(rs *runState, te TaskExecution) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	cp := te
	rs.exec.Tasks[te.TaskID] = &cp
	if te.Status.Terminal() {
		rs.exec.TotalCostUSD += te.CostUSD
	}
	if err := e.store.Save(rs.exec); err != nil {
		e.logger.Error("Persisting execution state failed",
			"execution_id", rs.exec.ID, "task_id", te.TaskID, "error", err)
	}
}

// transition moves the execution to status, persists it, and broadcasts the
// change. Only called from the run goroutine, outside parallel groups.
func (e *Engine) transition(exec *Execution, status Status, reason string) {
	exec.Status = status
	exec.Reason = reason
	if status.Terminal() {
		now := time.Now().UTC()
		exec.EndedAt = &now
	}
	if err := e.store.Save(exec); err != nil {
		e.logger.Error("Persisting execution state failed",
			"execution_id", exec.ID, "status", status, "error", err)
	}
	e.bus.PublishWorkflow(events.EventTypeWorkflowStatus, events.WorkflowPayload{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      string(status),
		Error:       reason,
	})
}

func (e *Engine) finish(rs *runState, status Status, reason string) {
	e.transition(rs.exec, status, reason)

	level := "info"
	msg := "workflow " + string(status)
	if status == StatusFailed {
		level = "error"
		msg += ": " + reason
	}
	e.log(rs.exec.ID, "", level, msg)
	e.logger.Info("Workflow execution finished",
		"execution_id", rs.exec.ID,
		"workflow_id", rs.exec.WorkflowID,
		"status", status,
		"cost_usd", rs.exec.TotalCostUSD,
		"reason", reason)
}

func (e *Engine) taskEvent(exec *Execution, te TaskExecution) {
	e.bus.PublishWorkflow(events.EventTypeWorkflowTaskStatus, events.WorkflowPayload{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		TaskID:      te.TaskID,
		Status:      string(te.Status),
		Error:       te.Error,
	})
}

func (e *Engine) log(executionID, taskID, level, msg string) {
	e.store.AppendLog(executionID, LogEntry{Level: level, TaskID: taskID, Message: msg})
}

func (e *Engine) warnMissing(rs *runState, task Task, missing []string) {
	for _, ref := range missing {
		e.log(rs.exec.ID, task.ID, "warn", fmt.Sprintf("unresolved template reference %q", ref))
	}
}

func (e *Engine) unregister(id string) {
	e.mu.Lock()
	cancel, ok := e.running[id]
	delete(e.running, id)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel stops a running execution. Returns false when the execution is not
// currently running on this engine (finished, recovered, or unknown).
func (e *Engine) Cancel(executionID string) bool {
	e.mu.RLock()
	cancel, ok := e.running[executionID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	cancel()
	e.logger.Info("Workflow execution cancel requested", "execution_id", executionID)
	return true
}

// Status returns the persisted snapshot of an execution.
func (e *Engine) Status(executionID string) (*Execution, error) {
	exec, err := e.store.Load(executionID)
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			return nil, fault.Wrap(fault.NotFound, "execution not found", err)
		}
		return nil, fault.Wrap(fault.Internal, "load execution", err)
	}
	return exec, nil
}

// Logs returns up to maxLines of an execution's activity log, oldest first.
func (e *Engine) Logs(executionID string, maxLines int) ([]string, error) {
	lines, err := e.store.ReadLog(executionID, maxLines)
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			return nil, fault.Wrap(fault.NotFound, "execution not found", err)
		}
		return nil, fault.Wrap(fault.Internal, "read execution log", err)
	}
	return lines, nil
}

// Executions returns snapshots of every persisted execution, newest first.
func (e *Engine) Executions() ([]*Execution, error) {
	return e.store.List()
}

// RecoverInterrupted reclassifies executions a previous process left pending
// or running as failed with reason "interrupted". It must run before the API
// accepts traffic. Recovered executions are surfaced through ListRecovered
// for manual reissue, never restarted automatically.
func (e *Engine) RecoverInterrupted() error {
	execs, err := e.store.List()
	if err != nil {
		return fmt.Errorf("scan persisted executions: %w", err)
	}

	var recovered []string
	for _, exec := range execs {
		if exec.Status.Terminal() {
			continue
		}
		now := time.Now().UTC()
		exec.Status = StatusFailed
		exec.Reason = "interrupted"
		exec.EndedAt = &now
		for _, te := range exec.Tasks {
			if !te.Status.Terminal() {
				te.Status = StatusFailed
				te.Error = "interrupted"
				te.EndedAt = &now
			}
		}
		if err := e.store.Save(exec); err != nil {
			return fmt.Errorf("mark execution %s interrupted: %w", exec.ID, err)
		}
		e.store.AppendLog(exec.ID, LogEntry{Level: "error", Message: "execution interrupted by process restart"})
		e.bus.PublishWorkflow(events.EventTypeWorkflowStatus, events.WorkflowPayload{
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			Status:      string(StatusFailed),
			Error:       "interrupted",
		})
		recovered = append(recovered, exec.ID)
		e.logger.Warn("Recovered interrupted execution",
			"execution_id", exec.ID, "workflow_id", exec.WorkflowID)
	}

	e.mu.Lock()
	e.recovered = recovered
	e.mu.Unlock()

	if len(recovered) > 0 {
		e.logger.Info("Workflow recovery complete", "interrupted", len(recovered))
	}
	return nil
}

// ListRecovered returns the executions marked interrupted during startup
// recovery.
func (e *Engine) ListRecovered() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.recovered))
	copy(out, e.recovered)
	return out
}

// Running returns the number of in-flight executions.
func (e *Engine) Running() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.running)
}

// Definitions returns the loaded workflow ids, sorted.
func (e *Engine) Definitions() []string {
	ids := make([]string, 0, len(e.defs))
	for id := range e.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop refuses new executions, waits up to the drain timeout for running
// ones, then cancels the stragglers and waits for them to finish persisting.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Workflow engine drained")
		return
	case <-time.After(e.cfg.DrainTimeout):
	}

	e.mu.RLock()
	stragglers := len(e.running)
	for id, cancel := range e.running {
		e.logger.Warn("Cancelling execution at shutdown", "execution_id", id)
		cancel()
	}
	e.mu.RUnlock()

	<-done
	e.logger.Info("Workflow engine stopped", "cancelled", stragglers)
}
