// Package anthropic adapts the Anthropic Claude Messages API to
// llm.Completer using github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/llm"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/provider"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

// DefaultMaxTokens caps completions when the prompt does not.
const DefaultMaxTokens = 1024

// statusOverloaded is Anthropic's non-standard "overloaded" status.
const statusOverloaded = 529

type (
	// MessagesClient captures the subset of the SDK used by the adapter. It is
	// satisfied by *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the adapter.
	Options struct {
		// Client is the messages client.
		Client MessagesClient
		// Model is the Claude model identifier.
		Model string
		// MaxTokens is used when the prompt does not set one.
		MaxTokens int
	}

	// Client implements llm.Completer.
	Client struct {
		msg    MessagesClient
		model  string
		maxTok int
	}
)

// New returns an adapter over opts.Client.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = DefaultMaxTokens
	}
	return &Client{msg: opts.Client, model: opts.Model, maxTok: maxTok}, nil
}

// HTTPOptions builds an SDK client.
type HTTPOptions struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// NewMessagesClient returns the messages service of a new SDK client. An
// empty API key falls back to the SDK's environment lookup.
func NewMessagesClient(o HTTPOptions) MessagesClient {
	reqOpts := []option.RequestOption{option.WithMaxRetries(o.MaxRetries)}
	if o.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.BaseURL))
	}
	if o.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(o.Timeout))
	}
	ac := sdk.NewClient(reqOpts...)
	return &ac.Messages
}

// NewFromAPIKey builds an adapter on the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, model string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: NewMessagesClient(HTTPOptions{APIKey: apiKey, Timeout: timeout}), Model: model})
}

// Complete sends the prompt and concatenates the text blocks of the reply.
func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	maxTok := c.maxTok
	if p.MaxTokens > 0 {
		maxTok = p.MaxTokens
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(maxTok),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.User))},
		Temperature: sdk.Float(p.Temperature),
	}
	if p.System != "" {
		params.System = []sdk.TextBlockParam{{Text: p.System}}
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", wrapError(err)
	}
	if msg == nil {
		return "", backend.Invocation("", backend.CauseProtocol, "anthropic: response message is nil", nil)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", backend.Invocation("", backend.CauseParse, "anthropic: reply has no text", nil)
	}
	return text, nil
}

func wrapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		cause := provider.CauseForStatus(status)
		if status == statusOverloaded {
			cause = backend.CauseRateLimited
		}
		return backend.Invocation("", cause, "anthropic: "+statusText(status), err)
	}
	return backend.Invocation("", backend.Classify(err), "anthropic: request failed", err)
}

func statusText(status int) string {
	if status == statusOverloaded {
		return "Overloaded"
	}
	return http.StatusText(status)
}
