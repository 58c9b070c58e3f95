package backend

import (
	"context"
	"sync"
	"time"

	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// MockReply is one scripted outcome. Delay is applied before the outcome and
// respects context cancellation.
type MockReply struct {
	Response *Response
	Err      error
	Delay    time.Duration
}

// Mock is a scripted backend serving tests and the "mock" provider type.
// Scripted replies are consumed in order; once exhausted the last one
// repeats. Without a script it echoes the final user message, which is
// enough for local development configs that have no provider credentials.
type Mock struct {
	mu      sync.Mutex
	replies []MockReply
	calls   int
}

// NewMock creates a mock backend with an optional reply script.
func NewMock(replies ...MockReply) *Mock {
	return &Mock{replies: replies}
}

// Invoke returns the next scripted outcome, or an echo response when no
// script was given.
func (m *Mock) Invoke(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	var reply MockReply
	scripted := len(m.replies) > 0
	if scripted {
		i := call
		if i >= len(m.replies) {
			i = len(m.replies) - 1
		}
		reply = m.replies[i]
	}
	m.mu.Unlock()

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fault.Terminal(ctx.Err())
		case <-timer.C:
		}
	}

	if !scripted {
		return m.echo(req), nil
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	resp := *reply.Response
	return &resp, nil
}

// Calls returns how many invocations the mock has served.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) echo(req *Request) *Response {
	last := ""
	chars := len(req.SystemPrompt)
	for i := len(req.Messages) - 1; i >= 0; i-- {
		chars += len(req.Messages[i].Content)
		if last == "" && req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
		}
	}
	text := "mock response: " + last
	return &Response{
		Text:       text,
		TokensIn:   chars/4 + 1,
		TokensOut:  len(text)/4 + 1,
		StopReason: "end_turn",
	}
}
