// Package openai adapts OpenAI-compatible Chat Completions endpoints (OpenAI,
// ChatGPT models, DeepSeek and Ollama) to llm.Completer using
// github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/llm"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/provider"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

const (
	// DeepSeekBaseURL is the OpenAI-compatible DeepSeek endpoint.
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	// OllamaBaseURL is the OpenAI-compatible endpoint of a local Ollama.
	OllamaBaseURL = "http://localhost:11434/v1"
)

type (
	// ChatClient captures the subset of the SDK used by the adapter. It is
	// satisfied by *sdk.ChatCompletionService.
	ChatClient interface {
		New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	}

	// Options configures the adapter.
	Options struct {
		// Client is the chat completions client.
		Client ChatClient
		// Model is the model identifier (for example "gpt-4o-mini").
		Model string
		// DisableJSONMode omits the JSON response format for endpoints that
		// do not support it.
		DisableJSONMode bool
	}

	// Client implements llm.Completer.
	Client struct {
		chat     ChatClient
		model    string
		jsonMode bool
	}

	// HTTPOptions builds an SDK client.
	HTTPOptions struct {
		APIKey     string
		BaseURL    string
		Timeout    time.Duration
		MaxRetries int
	}
)

// New returns an adapter over opts.Client.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai chat client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{chat: opts.Client, model: opts.Model, jsonMode: !opts.DisableJSONMode}, nil
}

// NewChatClient returns the SDK chat completions service configured from o.
// An empty APIKey is allowed for local endpoints such as Ollama.
func NewChatClient(o HTTPOptions) ChatClient {
	reqOpts := []option.RequestOption{option.WithMaxRetries(o.MaxRetries)}
	if o.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(o.APIKey))
	} else {
		reqOpts = append(reqOpts, option.WithAPIKey("unused"))
	}
	if o.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.BaseURL))
	}
	if o.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(o.Timeout))
	}
	c := sdk.NewClient(reqOpts...)
	return &c.Chat.Completions
}

// Complete sends the prompt as a system and a user message and returns the
// first choice's content.
func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(p.System),
			sdk.UserMessage(p.User),
		},
		Temperature: sdk.Float(p.Temperature),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(p.MaxTokens))
	}
	if p.JSON && c.jsonMode {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", wrapError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", backend.Invocation("", backend.CauseProtocol, "openai: response has no choices", nil)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", backend.Invocation("", backend.CauseParse, "openai: empty completion", nil)
	}
	return content, nil
}

// wrapError classifies SDK failures. API errors carry the HTTP status;
// anything else is left to backend.Classify.
func wrapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		cause := provider.CauseForStatus(apiErr.StatusCode)
		if apiErr.StatusCode == http.StatusNotFound {
			cause = backend.CauseProtocol
		}
		return backend.Invocation("", cause, "openai: "+http.StatusText(apiErr.StatusCode), err)
	}
	return backend.Invocation("", backend.Classify(err), "openai: request failed", err)
}
