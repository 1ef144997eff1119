package openai_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/llm"
	openaiprovider "github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/provider/openai"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

type mockChatClient struct {
	captured sdk.ChatCompletionNewParams
	response *sdk.ChatCompletion
	err      error
}

func (m *mockChatClient) New(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) (*sdk.ChatCompletion, error) {
	m.captured = body
	return m.response, m.err
}

// apiError builds an SDK error with the request and response its Error
// method dereferences.
func apiError(status int) *sdk.Error {
	u, _ := url.Parse("https://api.openai.com/v1/chat/completions")
	return &sdk.Error{
		StatusCode: status,
		Request:    &http.Request{Method: http.MethodPost, URL: u},
		Response:   &http.Response{StatusCode: status},
	}
}

func TestClientComplete(t *testing.T) {
	mock := &mockChatClient{response: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{{Message: sdk.ChatCompletionMessage{Content: ` {"suspicious":false} `}}},
	}}
	client, err := openaiprovider.New(openaiprovider.Options{Client: mock, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), llm.Prompt{System: "sys", User: "usr", MaxTokens: 64, JSON: true})
	require.NoError(t, err)
	require.Equal(t, `{"suspicious":false}`, text)

	req := mock.captured
	require.Equal(t, "gpt-4o-mini", string(req.Model))
	require.Len(t, req.Messages, 2)
	require.NotNil(t, req.Messages[0].OfSystem)
	require.NotNil(t, req.Messages[1].OfUser)
	require.Equal(t, int64(64), req.MaxTokens.Value)
	require.NotNil(t, req.ResponseFormat.OfJSONObject)
}

func TestClientCompleteWithoutJSONMode(t *testing.T) {
	mock := &mockChatClient{response: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{{Message: sdk.ChatCompletionMessage{Content: "{}"}}},
	}}
	client, err := openaiprovider.New(openaiprovider.Options{Client: mock, Model: "llama2", DisableJSONMode: true})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.Prompt{JSON: true})
	require.NoError(t, err)
	require.Nil(t, mock.captured.ResponseFormat.OfJSONObject)
}

// TestClientErrors verifies API statuses and empty replies map to causes.
func TestClientErrors(t *testing.T) {
	cases := []struct {
		name string
		mock *mockChatClient
		want backend.Cause
	}{
		{"rate limited", &mockChatClient{err: apiError(429)}, backend.CauseRateLimited},
		{"auth", &mockChatClient{err: apiError(401)}, backend.CauseAuth},
		{"server", &mockChatClient{err: apiError(502)}, backend.CauseNetwork},
		{"deadline", &mockChatClient{err: context.DeadlineExceeded}, backend.CauseTimeout},
		{"other", &mockChatClient{err: errors.New("boom")}, backend.CauseUnknown},
		{"no choices", &mockChatClient{response: &sdk.ChatCompletion{}}, backend.CauseProtocol},
		{"empty", &mockChatClient{response: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{{Message: sdk.ChatCompletionMessage{Content: "  "}}},
		}}, backend.CauseParse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := openaiprovider.New(openaiprovider.Options{Client: tc.mock, Model: "m"})
			require.NoError(t, err)
			_, err = client.Complete(context.Background(), llm.Prompt{})
			be, ok := backend.AsError(err)
			require.True(t, ok)
			require.Equal(t, tc.want, be.Cause())
			require.NotEmpty(t, be.Error())
		})
	}
}

func TestNewValidates(t *testing.T) {
	_, err := openaiprovider.New(openaiprovider.Options{Model: "m"})
	require.Error(t, err)
	_, err = openaiprovider.New(openaiprovider.Options{Client: &mockChatClient{}})
	require.Error(t, err)
}
