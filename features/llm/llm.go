// Package llm turns a text-completion provider into an interpretation
// backend. A Backend pairs a Completer (the provider adapter) with a Task
// that renders the prompt and decodes the JSON reply.
package llm

import (
	"context"
	"errors"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

type (
	// Prompt is a provider-neutral completion request.
	Prompt struct {
		// System holds the instructions.
		System string
		// User holds the untrusted input, already framed by the task.
		User string
		// MaxTokens caps the completion; zero lets the adapter decide.
		MaxTokens int
		// Temperature is the sampling temperature.
		Temperature float64
		// JSON asks the provider for a JSON object when it supports it.
		JSON bool
	}

	// Completer is implemented by provider adapters. It returns the raw
	// completion text. Errors should be *backend.Error values classified by
	// the adapter.
	Completer interface {
		Complete(ctx context.Context, p Prompt) (string, error)
	}

	// CompleterFunc adapts a function to Completer.
	CompleterFunc func(ctx context.Context, p Prompt) (string, error)

	// Task renders prompts and decodes replies for one kind of
	// interpretation.
	Task interface {
		// Prompt builds the completion request for req.
		Prompt(req backend.Request) Prompt
		// Decode validates and decodes the JSON object extracted from the
		// reply. It returns the payload and its confidence.
		Decode(obj map[string]any) (payload any, confidence float64, err error)
	}

	// Backend is a backend.Backend over a Completer and a Task.
	Backend struct {
		name      string
		completer Completer
		task      Task
	}
)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// New returns a backend named name.
func New(name string, c Completer, t Task) (*Backend, error) {
	if name == "" {
		return nil, errors.New("backend name is required")
	}
	if c == nil {
		return nil, errors.New("completer is required")
	}
	if t == nil {
		return nil, errors.New("task is required")
	}
	return &Backend{name: name, completer: c, task: t}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return b.name }

// Invoke completes the task prompt and decodes the reply. Malformed or
// invalid replies are invocation errors with CauseParse.
func (b *Backend) Invoke(ctx context.Context, req backend.Request) (*backend.Outcome, error) {
	text, err := b.completer.Complete(ctx, b.task.Prompt(req))
	if err != nil {
		return nil, backend.Normalize(b.name, err)
	}
	obj, err := ExtractObject(text)
	if err != nil {
		return nil, backend.Invocation(b.name, backend.CauseParse, "reply is not a JSON object", err)
	}
	payload, confidence, err := b.task.Decode(obj)
	if err != nil {
		return nil, backend.Invocation(b.name, backend.CauseParse, "reply failed validation", err)
	}
	return &backend.Outcome{
		Backend:    b.name,
		Confidence: backend.ClampConfidence(confidence),
		Payload:    payload,
	}, nil
}
