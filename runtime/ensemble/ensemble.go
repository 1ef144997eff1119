// Package ensemble fans one request out to a fixed, ordered set of backends,
// runs them concurrently and aggregates every result and failure into a
// single Outcome. Individual backend failures never fail the whole call.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/telemetry"
)

const (
	// DefaultTimeout bounds each backend invocation unless overridden.
	DefaultTimeout = 30 * time.Second

	// Identity is the name failures are attributed to when the ensemble
	// itself is misconfigured.
	Identity = "ensemble"

	// UnknownIdentity is the name a recovered panic is attributed to.
	UnknownIdentity = "unknown"
)

type (
	// Ensemble invokes a fixed set of backends concurrently. The set and its
	// order are decided at construction; an Ensemble is safe for concurrent
	// use.
	Ensemble struct {
		backends       []backend.Backend
		timeouts       map[string]time.Duration
		defaultTimeout time.Duration

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		obs     *observability
	}

	// Option configures an Ensemble.
	Option func(*Ensemble)

	// result is what one invocation goroutine reports back.
	result struct {
		name    string
		outcome *backend.Outcome
		err     *backend.Error
		elapsed time.Duration
	}
)

// WithTimeout bounds invocations of the named backend. A non-positive d
// disables the bound for that backend.
func WithTimeout(name string, d time.Duration) Option {
	return func(e *Ensemble) {
		e.timeouts[name] = d
	}
}

// WithDefaultTimeout bounds invocations of backends without a specific
// timeout. A non-positive d disables the default bound.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Ensemble) {
		e.defaultTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Ensemble) {
		e.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Ensemble) {
		e.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Ensemble) {
		e.tracer = t
	}
}

// New returns an Ensemble over backends, preserving their order. Nil entries
// are skipped.
func New(backends []backend.Backend, opts ...Option) *Ensemble {
	e := &Ensemble{
		timeouts:       make(map[string]time.Duration),
		defaultTimeout: DefaultTimeout,
	}
	for _, b := range backends {
		if b != nil {
			e.backends = append(e.backends, b)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	e.obs = newObservability(e.logger, e.metrics, e.tracer)
	return e
}

// Len returns the number of backends.
func (e *Ensemble) Len() int { return len(e.backends) }

// Names returns the backend names in construction order.
func (e *Ensemble) Names() []string {
	names := make([]string, len(e.backends))
	for i, b := range e.backends {
		names[i] = b.Name()
	}
	return names
}

// ParseAll invokes every backend concurrently and waits for all of them.
func (e *Ensemble) ParseAll(ctx context.Context, req backend.Request) *Outcome {
	return e.run(ctx, req, e.backends)
}

// ParseSelected invokes the backends whose name allow admits. A nil allow
// admits every backend.
func (e *Ensemble) ParseSelected(ctx context.Context, req backend.Request, allow func(name string) bool) *Outcome {
	if allow == nil {
		return e.ParseAll(ctx, req)
	}
	selected := make([]backend.Backend, 0, len(e.backends))
	for _, b := range e.backends {
		if allow(b.Name()) {
			selected = append(selected, b)
		}
	}
	return e.run(ctx, req, selected)
}

func (e *Ensemble) run(ctx context.Context, req backend.Request, backends []backend.Backend) *Outcome {
	if len(backends) == 0 {
		err := backend.NewError(backend.KindConfiguration, "", Identity, "no backends enabled in ensemble", nil)
		e.logger.Warn(ctx, "ensemble has no backends", "request_id", req.RequestID)
		return &Outcome{Errors: []Failure{{Backend: Identity, Err: err}}}
	}

	start := time.Now()
	ctx, span := e.obs.startSpan(ctx, OpParseAll,
		attribute.String("request_id", req.RequestID),
		attribute.Int("backend_count", len(backends)),
	)

	resultCh := make(chan result, len(backends))
	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b backend.Backend) {
			defer wg.Done()
			resultCh <- e.invoke(ctx, b, req)
		}(b)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	out := &Outcome{
		BackendCount: len(backends),
		Invoked:      make([]string, len(backends)),
	}
	for i, b := range backends {
		out.Invoked[i] = b.Name()
	}
	for res := range resultCh {
		e.obs.recordBackend(res)
		if res.err != nil {
			e.logger.Warn(ctx, "backend invocation failed",
				"backend", res.name, "request_id", req.RequestID, "error", res.err)
			out.Errors = append(out.Errors, Failure{Backend: res.name, Err: res.err})
			continue
		}
		out.Results = append(out.Results, res.outcome)
	}
	out.SuccessCount = len(out.Results)
	out.Elapsed = time.Since(start)

	if len(out.Errors) > 0 && len(out.Results) > 0 {
		span.AddEvent("partial_failure",
			"error_count", len(out.Errors),
			"result_count", len(out.Results),
		)
	}
	e.obs.finish(ctx, span, OperationEvent{
		Operation:    OpParseAll,
		RequestID:    req.RequestID,
		Duration:     out.Elapsed,
		BackendCount: out.BackendCount,
		SuccessCount: out.SuccessCount,
	})
	return out
}

// invoke runs one backend under its timeout. Panics in the backend are
// recovered and attributed to UnknownIdentity.
func (e *Ensemble) invoke(ctx context.Context, b backend.Backend, req backend.Request) (res result) {
	name := b.Name()
	start := time.Now()
	defer func() { res.elapsed = time.Since(start) }()

	if d := e.timeoutFor(name); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{
					name: UnknownIdentity,
					err:  backend.Invocation(UnknownIdentity, backend.CauseFault, fmt.Sprintf("backend %q panicked: %v", name, r), nil),
				}
			}
		}()
		out, err := b.Invoke(ctx, req)
		done <- complete(ctx, name, out, err)
	}()

	select {
	case res = <-done:
		return res
	case <-ctx.Done():
		cause := backend.CauseUnknown
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cause = backend.CauseTimeout
		}
		return result{name: name, err: backend.Invocation(name, cause, "invocation abandoned", ctx.Err())}
	}
}

// complete converts a raw Invoke return into a result.
func complete(ctx context.Context, name string, out *backend.Outcome, err error) result {
	if err != nil {
		be := backend.Normalize(name, err)
		if be.Kind() == backend.KindInvocation && be.Cause() != backend.CauseTimeout &&
			errors.Is(ctx.Err(), context.DeadlineExceeded) {
			be = backend.Invocation(name, backend.CauseTimeout, "deadline exceeded", err)
		}
		return result{name: name, err: be}
	}
	if out == nil {
		return result{name: name, err: backend.Invocation(name, backend.CauseProtocol, "backend returned neither outcome nor error", nil)}
	}
	cp := *out
	cp.Backend = name
	cp.Confidence = backend.ClampConfidence(cp.Confidence)
	return result{name: name, outcome: &cp}
}

func (e *Ensemble) timeoutFor(name string) time.Duration {
	if d, ok := e.timeouts[name]; ok {
		return d
	}
	return e.defaultTimeout
}
