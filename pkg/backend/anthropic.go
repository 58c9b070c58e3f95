package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// MessagesClient is the subset of the Anthropic SDK used by the adapter. It
// is satisfied by *sdk.MessageService so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic invokes a model through the Anthropic Messages API.
type Anthropic struct {
	msg     MessagesClient
	modelID string
}

// NewAnthropic creates an adapter over an injected Messages client.
func NewAnthropic(msg MessagesClient, modelID string) *Anthropic {
	return &Anthropic{msg: msg, modelID: modelID}
}

// NewAnthropicFromConfig builds the SDK client from model configuration,
// reading the API key from the configured environment variable.
func NewAnthropicFromConfig(cfg config.ModelConfig) (*Anthropic, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "ANTHROPIC_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: environment variable %s is empty", keyEnv)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	ac := sdk.NewClient(opts...)
	return NewAnthropic(&ac.Messages, cfg.ModelID), nil
}

// Invoke sends one Messages.New request and translates the result.
func (a *Anthropic) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if req.MaxTokens <= 0 {
		return nil, fault.New(fault.InvalidInput, "anthropic: max_tokens must be positive")
	}
	if len(req.Messages) == 0 {
		return nil, fault.New(fault.InvalidInput, "anthropic: messages are required")
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(req.MaxTokens),
		Messages:  encodeAnthropicMessages(req.Messages),
		Model:     sdk.Model(a.modelID),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return nil, anthropicFault(err)
	}

	text := ""
	for _, block := range msg.Content {
		if block.Type != "text" || block.Text == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += block.Text
	}

	return &Response{
		Text:       text,
		TokensIn:   int(msg.Usage.InputTokens),
		TokensOut:  int(msg.Usage.OutputTokens),
		StopReason: string(msg.StopReason),
	}, nil
}

func encodeAnthropicMessages(msgs []Message) []sdk.MessageParam {
	encoded := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			encoded = append(encoded, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			encoded = append(encoded, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return encoded
}

// anthropicFault maps an SDK error into the shared taxonomy. API errors
// carry an HTTP status; rate-limit responses keep the provider's Retry-After
// hint so the retry executor can honor it.
func anthropicFault(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		f := fault.FromStatus(apierr.StatusCode, "anthropic request failed", err)
		if apierr.StatusCode == http.StatusTooManyRequests {
			if d := retryAfterHeader(apierr.Response); d > 0 {
				f = f.WithRetryAfter(d)
			}
		}
		return f
	}
	return fault.Terminal(fmt.Errorf("anthropic messages.new: %w", err))
}

// retryAfterHeader parses a Retry-After header given in delay seconds.
func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
