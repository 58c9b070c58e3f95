// Package backend adapts upstream model providers to a single Invoke
// contract.
//
// Each adapter translates the gateway's Request into the provider SDK's
// shape and maps provider failures into the shared fault taxonomy, so the
// retry executor and API surface never see provider-specific error types.
// The Registry composes adapters with per-model rate limiters and is the
// only entry point the invoker uses.
package backend

import "context"

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation context sent upstream.
type Message struct {
	Role    Role
	Content string
}

// Request describes one model invocation. Model is the logical model name
// from configuration; adapters resolve it to their provider-side identifier.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  *float64
}

// Response is the provider-neutral result of one invocation. Token counts
// come from the provider's usage report, not estimates.
type Response struct {
	Text       string
	TokensIn   int
	TokensOut  int
	StopReason string
}

// Backend performs a single model invocation.
type Backend interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// estimateTokens approximates the request's token footprint for the token
// bucket: prompt characters at ~4 per token plus the output ceiling.
func estimateTokens(req *Request) int {
	chars := len(req.SystemPrompt)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	est := chars/4 + req.MaxTokens
	if est < 1 {
		est = 1
	}
	return est
}
