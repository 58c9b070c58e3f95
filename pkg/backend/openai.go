package backend

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// ChatClient is the subset of the go-openai client used by the adapter. It
// is satisfied by *openai.Client so tests can substitute a fake.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI invokes a model through the Chat Completions API. With a base_url
// override it serves any OpenAI-compatible endpoint (vLLM, Ollama, proxies).
type OpenAI struct {
	chat    ChatClient
	modelID string
}

// NewOpenAI creates an adapter over an injected chat client.
func NewOpenAI(chat ChatClient, modelID string) *OpenAI {
	return &OpenAI{chat: chat, modelID: modelID}
}

// NewOpenAIFromConfig builds the client from model configuration, reading
// the API key from the configured environment variable and honoring the
// base_url override.
func NewOpenAIFromConfig(cfg config.ModelConfig) (*OpenAI, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: environment variable %s is empty", keyEnv)
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewOpenAI(openai.NewClientWithConfig(clientCfg), cfg.ModelID), nil
}

// Invoke sends one chat completion request and translates the result.
func (o *OpenAI) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fault.New(fault.InvalidInput, "openai: messages are required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	request := openai.ChatCompletionRequest{
		Model:     o.modelID,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		request.Temperature = float32(*req.Temperature)
	}

	resp, err := o.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, openaiFault(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fault.New(fault.UpstreamError, "openai returned no choices")
	}

	choice := resp.Choices[0]
	return &Response{
		Text:       choice.Message.Content,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: string(choice.FinishReason),
	}, nil
}

// openaiFault maps a go-openai error into the shared taxonomy. Both APIError
// and RequestError carry the upstream HTTP status.
func openaiFault(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fault.FromStatus(apiErr.HTTPStatusCode, "openai request failed", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fault.FromStatus(reqErr.HTTPStatusCode, "openai request failed", err)
	}
	return fault.Terminal(fmt.Errorf("openai chat completion: %w", err))
}
