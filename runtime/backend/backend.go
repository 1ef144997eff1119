// Package backend defines the capability shared by every interpretation
// backend (parsers and sentries alike): a stable name and a context-aware
// Invoke that returns either an Outcome or a typed Error.
package backend

import (
	"context"

	"github.com/google/uuid"
)

type (
	// Backend interprets a single untrusted input. Implementations must be
	// safe for concurrent use: the ensemble invokes the same Backend from
	// many goroutines.
	Backend interface {
		// Name returns the stable, unique identifier of the backend.
		Name() string
		// Invoke interprets req. It returns exactly one of a non-nil Outcome
		// or a non-nil error.
		Invoke(ctx context.Context, req Request) (*Outcome, error)
	}

	// Request carries the untrusted input and its correlation identifiers.
	Request struct {
		// Input is the raw user text.
		Input string
		// CallerID identifies the caller on whose behalf the input is tested.
		CallerID string
		// SessionID groups requests of one conversation.
		SessionID string
		// RequestID correlates logs and spans across backends.
		RequestID string
	}

	// Outcome is the successful result of one backend invocation. It is
	// immutable once returned.
	Outcome struct {
		// Backend is the name of the backend that produced the outcome. The
		// ensemble overwrites it with Backend.Name().
		Backend string `json:"backend"`
		// Confidence is the backend's self-reported confidence in [0, 1].
		Confidence float64 `json:"confidence"`
		// Payload is the backend-specific interpretation (for example an
		// intent.Intent or a sentry.Verdict).
		Payload any `json:"payload,omitempty"`
	}

	// Func adapts a function to the Backend interface.
	Func struct {
		name string
		fn   func(context.Context, Request) (*Outcome, error)
	}
)

// NewRequest returns a Request for input with a freshly generated RequestID.
func NewRequest(input, callerID, sessionID string) Request {
	return Request{
		Input:     input,
		CallerID:  callerID,
		SessionID: sessionID,
		RequestID: uuid.NewString(),
	}
}

// WithRequestID returns a copy of r with a generated RequestID when r has
// none.
func (r Request) WithRequestID() Request {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	return r
}

// NewFunc returns a Backend named name that delegates to fn.
func NewFunc(name string, fn func(context.Context, Request) (*Outcome, error)) *Func {
	return &Func{name: name, fn: fn}
}

// Name returns the backend name.
func (f *Func) Name() string { return f.name }

// Invoke calls the wrapped function.
func (f *Func) Invoke(ctx context.Context, req Request) (*Outcome, error) {
	return f.fn(ctx, req)
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
