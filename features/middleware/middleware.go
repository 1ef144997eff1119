// Package middleware provides llm.Completer decorators applied at the provider
// boundary: per-call timeouts and adaptive rate limiting.
package middleware

import (
	"context"
	"time"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/llm"
)

// Middleware decorates a completer.
type Middleware func(llm.Completer) llm.Completer

// Chain applies mws to c so that the first middleware is the outermost.
func Chain(c llm.Completer, mws ...Middleware) llm.Completer {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			c = mws[i](c)
		}
	}
	return c
}

// Timeout bounds every completion by d. A non-positive d disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(next llm.Completer) llm.Completer {
		if next == nil || d <= 0 {
			return next
		}
		return llm.CompleterFunc(func(ctx context.Context, p llm.Prompt) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Complete(ctx, p)
		})
	}
}
