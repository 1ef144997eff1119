// Package bedrock adapts the AWS Bedrock Converse API to llm.Completer using
// github.com/aws/aws-sdk-go-v2/service/bedrockruntime. Errors are classified
// from smithy API error codes and HTTP statuses.
package bedrock

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/llm"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/provider"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

// DefaultMaxTokens caps completions when the prompt does not.
const DefaultMaxTokens = 1024

type (
	// RuntimeClient mirrors the subset of the Bedrock runtime client used by
	// the adapter. It matches *bedrockruntime.Client.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	}

	// Options configures the adapter.
	Options struct {
		// Runtime is the Bedrock runtime client.
		Runtime RuntimeClient
		// ModelID is the Bedrock model or inference profile identifier.
		ModelID string
		// MaxTokens is used when the prompt does not set one.
		MaxTokens int
	}

	// Client implements llm.Completer.
	Client struct {
		runtime RuntimeClient
		modelID string
		maxTok  int
	}

	// Credentials are static AWS credentials.
	Credentials struct {
		AccessKeyID     string
		SecretAccessKey string
		SessionToken    string
	}
)

// New returns an adapter over opts.Runtime.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.ModelID == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = DefaultMaxTokens
	}
	return &Client{runtime: opts.Runtime, modelID: opts.ModelID, maxTok: maxTok}, nil
}

// NewRuntimeClient builds a Bedrock runtime client for region using static
// credentials.
func NewRuntimeClient(region string, creds Credentials) (*bedrockruntime.Client, error) {
	if region == "" {
		return nil, errors.New("aws region is required")
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, errors.New("aws access key id and secret access key are required")
	}
	static := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
			SessionToken:    creds.SessionToken,
			Source:          "segregate-config",
		}, nil
	})
	return bedrockruntime.New(bedrockruntime.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(static),
	}), nil
}

// Complete sends the prompt through Converse and concatenates the text
// blocks of the reply.
func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	maxTok := c.maxTok
	if p.MaxTokens > 0 {
		maxTok = p.MaxTokens
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: p.User}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTok)), //nolint:gosec // bounded by configuration
			Temperature: aws.Float32(float32(p.Temperature)),
		},
	}
	if p.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: p.System}}
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", wrapError(err)
	}
	if out == nil {
		return "", backend.Invocation("", backend.CauseProtocol, "bedrock: converse output is nil", nil)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", backend.Invocation("", backend.CauseProtocol, "bedrock: converse output has no message", nil)
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(t.Value)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", backend.Invocation("", backend.CauseParse, "bedrock: reply has no text", nil)
	}
	return text, nil
}

// isRateLimited reports whether err is a Bedrock throttling signal, either
// as an API error code or an HTTP 429.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests
}

func wrapError(err error) error {
	if isRateLimited(err) {
		return backend.Invocation("", backend.CauseRateLimited, "bedrock: throttled", err)
	}
	cause := backend.CauseUnknown
	msg := "bedrock: request failed"

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg = "bedrock: " + apiErr.ErrorCode()
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
			cause = backend.CauseAuth
		case "ModelTimeoutException":
			cause = backend.CauseTimeout
		case "ValidationException", "ResourceNotFoundException", "ModelNotReadyException":
			cause = backend.CauseProtocol
		case "InternalServerException", "ServiceUnavailableException", "ModelErrorException":
			cause = backend.CauseNetwork
		}
	}
	var respErr *smithyhttp.ResponseError
	if cause == backend.CauseUnknown && errors.As(err, &respErr) {
		cause = provider.CauseForStatus(respErr.HTTPStatusCode())
	}
	if cause == backend.CauseUnknown {
		cause = backend.Classify(err)
	}
	return backend.Invocation("", cause, msg, err)
}
