package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/events"
	"github.com/switchyard-ai/switchyard/pkg/fault"
	"github.com/switchyard-ai/switchyard/pkg/invoker"
)

// callerFunc adapts a function to the Caller interface.
type callerFunc func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error)

func (f callerFunc) Invoke(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
	return f(ctx, agentID, req)
}

func newTestEngine(t *testing.T, defs map[string]*Definition, caller Caller) *Engine {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	store, err := NewStore(t.TempDir(), false, logger)
	require.NoError(t, err)

	bus := events.NewBus(logger)
	t.Cleanup(bus.Stop)

	cfg := &config.WorkflowConfig{MaxConcurrent: 8, DrainTimeout: 2 * time.Second}
	eng := NewEngine(cfg, defs, store, caller, bus, logger)
	eng.retryBase = time.Millisecond
	t.Cleanup(eng.Stop)
	return eng
}

func waitTerminal(t *testing.T, eng *Engine, id string) *Execution {
	t.Helper()
	var exec *Execution
	require.Eventually(t, func() bool {
		e, err := eng.Status(id)
		if err != nil {
			return false
		}
		exec = e
		return e.Status.Terminal()
	}, 3*time.Second, 5*time.Millisecond)
	return exec
}

func TestExecuteRunsTasksInOrder(t *testing.T) {
	def := &Definition{
		ID: "triage",
		Tasks: []Task{
			{ID: "classify", Type: TaskAgentCall, Agent: "classifier", Prompt: "classify {{context.alert}}"},
			{ID: "summarize", Type: TaskAgentCall, Agent: "writer", Prompt: "summarize: {{classify.output}}"},
		},
	}

	var mu sync.Mutex
	var prompts []string
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		mu.Lock()
		prompts = append(prompts, req.Prompt)
		mu.Unlock()
		return &invoker.Result{AgentID: agentID, RequestID: req.RequestID, Text: "out-" + agentID, CostUSD: 0.01}, nil
	})
	eng := newTestEngine(t, map[string]*Definition{"triage": def}, caller)

	exec, err := eng.Execute(context.Background(), "triage", "proj-a", map[string]any{"alert": "disk full"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, exec.Status)

	final := waitTerminal(t, eng, exec.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	require.Len(t, final.Tasks, 2)
	assert.Equal(t, StatusCompleted, final.Tasks["classify"].Status)
	assert.Equal(t, "out-classifier", final.Tasks["classify"].Output)
	assert.InDelta(t, 0.02, final.TotalCostUSD, 1e-9)
	require.NotNil(t, final.EndedAt)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, prompts, 2)
	assert.Equal(t, "classify disk full", prompts[0])
	assert.Equal(t, "summarize: out-classifier", prompts[1])

	lines, err := eng.Logs(exec.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, lines)
}

func TestAgentCallsShareExecutionRequestID(t *testing.T) {
	def := &Definition{
		ID: "pair",
		Tasks: []Task{
			{ID: "a", Type: TaskAgentCall, Agent: "dev", Prompt: "one"},
			{ID: "b", Type: TaskAgentCall, Agent: "dev", Prompt: "two"},
		},
	}

	var mu sync.Mutex
	var requestIDs []string
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		mu.Lock()
		requestIDs = append(requestIDs, req.RequestID)
		mu.Unlock()
		return &invoker.Result{AgentID: agentID, Text: "ok"}, nil
	})
	eng := newTestEngine(t, map[string]*Definition{"pair": def}, caller)

	exec, err := eng.Execute(context.Background(), "pair", "", nil)
	require.NoError(t, err)
	waitTerminal(t, eng, exec.ID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requestIDs, 2)
	assert.Equal(t, exec.ID, requestIDs[0], "cost events attribute to the execution")
	assert.Equal(t, exec.ID, requestIDs[1])
}

func TestParallelGroupToleratesSkippableFailure(t *testing.T) {
	def := &Definition{
		ID: "fanout",
		Tasks: []Task{
			{ID: "gather", Type: TaskParallel, Tasks: []Task{
				{ID: "t1", Type: TaskAgentCall, Agent: "a", Prompt: "p1"},
				{ID: "t2", Type: TaskAgentCall, Agent: "b", Prompt: "p2", SkipOnError: true},
				{ID: "t3", Type: TaskAgentCall, Agent: "c", Prompt: "p3"},
			}},
		},
	}
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		if agentID == "b" {
			return nil, fault.New(fault.UpstreamError, "boom")
		}
		return &invoker.Result{AgentID: agentID, Text: agentID + " done"}, nil
	})
	eng := newTestEngine(t, map[string]*Definition{"fanout": def}, caller)

	exec, err := eng.Execute(context.Background(), "fanout", "", nil)
	require.NoError(t, err)
	final := waitTerminal(t, eng, exec.ID)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, StatusCompleted, final.Tasks["t1"].Status)
	assert.Equal(t, StatusFailed, final.Tasks["t2"].Status)
	assert.Contains(t, final.Tasks["t2"].Error, "boom")
	assert.Equal(t, StatusCompleted, final.Tasks["t3"].Status)
	assert.Equal(t, StatusCompleted, final.Tasks["gather"].Status)
}

func TestParallelGroupFailsOnUnskippableChild(t *testing.T) {
	def := &Definition{
		ID: "fanout",
		Tasks: []Task{
			{ID: "gather", Type: TaskParallel, Tasks: []Task{
				{ID: "t1", Type: TaskAgentCall, Agent: "a", Prompt: "p1"},
				{ID: "t2", Type: TaskAgentCall, Agent: "b", Prompt: "p2"},
			}},
			{ID: "after", Type: TaskAgentCall, Agent: "a", Prompt: "never runs"},
		},
	}
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		if agentID == "b" {
			return nil, fault.New(fault.UpstreamError, "boom")
		}
		return &invoker.Result{AgentID: agentID, Text: "ok"}, nil
	})
	eng := newTestEngine(t, map[string]*Definition{"fanout": def}, caller)

	exec, err := eng.Execute(context.Background(), "fanout", "", nil)
	require.NoError(t, err)
	final := waitTerminal(t, eng, exec.ID)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Reason, "t2")
	// The sibling still ran to completion before the group was judged.
	assert.Equal(t, StatusCompleted, final.Tasks["t1"].Status)
	assert.NotContains(t, final.Tasks, "after")
}

func TestTaskFailureStopsWorkflow(t *testing.T) {
	def := &Definition{
		ID: "strict",
		Tasks: []Task{
			{ID: "first", Type: TaskAgentCall, Agent: "a", Prompt: "p"},
			{ID: "second", Type: TaskAgentCall, Agent: "a", Prompt: "p"},
		},
	}
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		return nil, fault.New(fault.UpstreamError, "backend down")
	})
	eng := newTestEngine(t, map[string]*Definition{"strict": def}, caller)

	exec, err := eng.Execute(context.Background(), "strict", "", nil)
	require.NoError(t, err)
	final := waitTerminal(t, eng, exec.ID)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Reason, "first")
	assert.Equal(t, StatusFailed, final.Tasks["first"].Status)
	assert.NotContains(t, final.Tasks, "second")
}

func TestSkipOnErrorContinuesSequence(t *testing.T) {
	def := &Definition{
		ID: "lenient",
		Tasks: []Task{
			{ID: "flaky", Type: TaskAgentCall, Agent: "bad", Prompt: "p", SkipOnError: true},
			{ID: "steady", Type: TaskAgentCall, Agent: "good", Prompt: "p"},
		},
	}
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		if agentID == "bad" {
			return nil, fault.New(fault.UpstreamError, "boom")
		}
		return &invoker.Result{AgentID: agentID, Text: "ok"}, nil
	})
	eng := newTestEngine(t, map[string]*Definition{"lenient": def}, caller)

	exec, err := eng.Execute(context.Background(), "lenient", "", nil)
	require.NoError(t, err)
	final := waitTerminal(t, eng, exec.ID)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, StatusFailed, final.Tasks["flaky"].Status)
	assert.Equal(t, StatusCompleted, final.Tasks["steady"].Status)
}

func TestTaskRetryEventuallySucceeds(t *testing.T) {
	def := &Definition{
		ID: "retrying",
		Tasks: []Task{
			{ID: "flaky", Type: TaskAgentCall, Agent: "a", Prompt: "p", RetryCount: 2},
		},
	}

	var mu sync.Mutex
	calls := 0
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, fault.New(fault.UpstreamError, "transient")
		}
		return &invoker.Result{AgentID: agentID, Text: "recovered"}, nil
	})
	eng := newTestEngine(t, map[string]*Definition{"retrying": def}, caller)

	exec, err := eng.Execute(context.Background(), "retrying", "", nil)
	require.NoError(t, err)
	final := waitTerminal(t, eng, exec.ID)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 2, final.Tasks["flaky"].Attempts)
	assert.Equal(t, "recovered", final.Tasks["flaky"].Output)
}

func TestConditionalJumpsToBranch(t *testing.T) {
	def := &Definition{
		ID: "branching",
		Tasks: []Task{
			{ID: "score", Type: TaskAgentCall, Agent: "scorer", Prompt: "score it"},
			{ID: "fork", Type: TaskConditional, Condition: "score.output > 5", NextTask: "page", ElseTask: "log"},
			{ID: "log", Type: TaskAgentCall, Agent: "logger", Prompt: "log it"},
			{ID: "page", Type: TaskAgentCall, Agent: "pager", Prompt: "page someone"},
		},
	}
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		if agentID == "scorer" {
			return &invoker.Result{AgentID: agentID, Text: "8"}, nil
		}
		return &invoker.Result{AgentID: agentID, Text: agentID + " ran"}, nil
	})
	eng := newTestEngine(t, map[string]*Definition{"branching": def}, caller)

	exec, err := eng.Execute(context.Background(), "branching", "", nil)
	require.NoError(t, err)
	final := waitTerminal(t, eng, exec.ID)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "true", final.Tasks["fork"].Output)
	assert.Contains(t, final.Tasks, "page")
	assert.NotContains(t, final.Tasks, "log", "the else branch is jumped over")
}

func TestCancelMarksExecutionCancelled(t *testing.T) {
	def := &Definition{
		ID: "slow",
		Tasks: []Task{
			{ID: "wait", Type: TaskAgentCall, Agent: "a", Prompt: "p"},
		},
	}
	started := make(chan struct{})
	var once sync.Once
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, fault.Terminal(ctx.Err())
	})
	eng := newTestEngine(t, map[string]*Definition{"slow": def}, caller)

	exec, err := eng.Execute(context.Background(), "slow", "", nil)
	require.NoError(t, err)
	<-started

	require.True(t, eng.Cancel(exec.ID))
	final := waitTerminal(t, eng, exec.ID)
	assert.Equal(t, StatusCancelled, final.Status)

	assert.False(t, eng.Cancel(exec.ID), "finished executions are no longer cancellable")
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	eng := newTestEngine(t, map[string]*Definition{}, nil)

	_, err := eng.Execute(context.Background(), "ghost", "", nil)
	require.Error(t, err)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestExecuteRejectsAtConcurrencyLimit(t *testing.T) {
	def := &Definition{
		ID: "slow",
		Tasks: []Task{
			{ID: "wait", Type: TaskAgentCall, Agent: "a", Prompt: "p"},
		},
	}
	release := make(chan struct{})
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		select {
		case <-release:
			return &invoker.Result{AgentID: agentID, Text: "ok"}, nil
		case <-ctx.Done():
			return nil, fault.Terminal(ctx.Err())
		}
	})
	eng := newTestEngine(t, map[string]*Definition{"slow": def}, caller)
	eng.cfg.MaxConcurrent = 1

	first, err := eng.Execute(context.Background(), "slow", "", nil)
	require.NoError(t, err)

	_, err = eng.Execute(context.Background(), "slow", "", nil)
	require.Error(t, err)
	assert.Equal(t, fault.QuotaReject, fault.KindOf(err))

	close(release)
	final := waitTerminal(t, eng, first.ID)
	assert.Equal(t, StatusCompleted, final.Status)
}

func TestStopCancelsStragglers(t *testing.T) {
	def := &Definition{
		ID: "stuck",
		Tasks: []Task{
			{ID: "wait", Type: TaskAgentCall, Agent: "a", Prompt: "p"},
		},
	}
	started := make(chan struct{})
	var once sync.Once
	caller := callerFunc(func(ctx context.Context, agentID string, req *invoker.Request) (*invoker.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, fault.Terminal(ctx.Err())
	})
	eng := newTestEngine(t, map[string]*Definition{"stuck": def}, caller)
	eng.cfg.DrainTimeout = 20 * time.Millisecond

	exec, err := eng.Execute(context.Background(), "stuck", "", nil)
	require.NoError(t, err)
	<-started

	eng.Stop()

	final, err := eng.Status(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)

	_, err = eng.Execute(context.Background(), "stuck", "", nil)
	require.Error(t, err, "a stopped engine refuses new executions")
}

func TestHTTPCallTaskCapturesResponse(t *testing.T) {
	var mu sync.Mutex
	var gotMethod, gotBody, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotMethod = r.Method
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
		mu.Unlock()
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	def := &Definition{
		ID: "notifying",
		Tasks: []Task{
			{
				ID:     "notify",
				Type:   TaskHTTPCall,
				URL:    srv.URL,
				Method: "POST",
				Body:   `{"alert":"{{context.alert}}"}`,
			},
		},
	}
	eng := newTestEngine(t, map[string]*Definition{"notifying": def}, nil)

	exec, err := eng.Execute(context.Background(), "notifying", "", map[string]any{"alert": "disk"})
	require.NoError(t, err)
	final := waitTerminal(t, eng, exec.ID)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, `{"ok":true}`, final.Tasks["notify"].Output)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"alert":"disk"}`, gotBody)
	assert.Equal(t, "application/json", gotContentType)
}

func TestHTTPCallTaskFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	def := &Definition{
		ID: "failing",
		Tasks: []Task{
			{ID: "call", Type: TaskHTTPCall, URL: srv.URL},
		},
	}
	eng := newTestEngine(t, map[string]*Definition{"failing": def}, nil)

	exec, err := eng.Execute(context.Background(), "failing", "", nil)
	require.NoError(t, err)
	final := waitTerminal(t, eng, exec.ID)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Tasks["call"].Error, "503")
}

func TestWebhookFailureNeverFailsTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	def := &Definition{
		ID: "hooked",
		Tasks: []Task{
			{ID: "hook", Type: TaskWebhook, URL: srv.URL, Body: `{"done":true}`},
		},
	}
	eng := newTestEngine(t, map[string]*Definition{"hooked": def}, nil)

	exec, err := eng.Execute(context.Background(), "hooked", "", nil)
	require.NoError(t, err)
	final := waitTerminal(t, eng, exec.ID)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, StatusCompleted, final.Tasks["hook"].Status)
}

func TestRecoverInterruptedMarksRunningFailed(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store, err := NewStore(t.TempDir(), false, logger)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.Save(&Execution{
		ID:         "exec-1",
		WorkflowID: "w",
		Status:     StatusRunning,
		StartedAt:  now,
		Tasks: map[string]*TaskExecution{
			"t1": {TaskID: "t1", Type: TaskAgentCall, Status: StatusRunning, StartedAt: now},
			"t0": {TaskID: "t0", Type: TaskAgentCall, Status: StatusCompleted, StartedAt: now},
		},
	}))
	require.NoError(t, store.Save(&Execution{
		ID:         "exec-2",
		WorkflowID: "w",
		Status:     StatusCompleted,
		StartedAt:  now,
	}))

	bus := events.NewBus(logger)
	t.Cleanup(bus.Stop)
	eng := NewEngine(&config.WorkflowConfig{DrainTimeout: time.Second}, nil, store, nil, bus, logger)

	require.NoError(t, eng.RecoverInterrupted())

	assert.Equal(t, []string{"exec-1"}, eng.ListRecovered())

	got, err := eng.Status("exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "interrupted", got.Reason)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, StatusFailed, got.Tasks["t1"].Status)
	assert.Equal(t, "interrupted", got.Tasks["t1"].Error)
	assert.Equal(t, StatusCompleted, got.Tasks["t0"].Status, "finished tasks keep their outcome")

	untouched, err := eng.Status("exec-2")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, untouched.Status)
}
