package ensemble

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/telemetry"
)

// OperationType identifies an ensemble operation for observability.
type OperationType string

// OpParseAll is the fan-out over the selected backends.
const OpParseAll OperationType = "parse_all"

// OperationOutcome is the coarse result of an operation.
type OperationOutcome string

const (
	// OutcomeSuccess means every backend succeeded.
	OutcomeSuccess OperationOutcome = "success"
	// OutcomePartial means some, but not all, backends failed.
	OutcomePartial OperationOutcome = "partial"
	// OutcomeError means every backend failed.
	OutcomeError OperationOutcome = "error"
)

// OperationEvent is the structured record of one ensemble call.
type OperationEvent struct {
	Operation    OperationType
	RequestID    string
	Duration     time.Duration
	BackendCount int
	SuccessCount int
}

// Outcome derives the coarse outcome from the counts.
func (e OperationEvent) Outcome() OperationOutcome {
	switch {
	case e.SuccessCount == e.BackendCount:
		return OutcomeSuccess
	case e.SuccessCount == 0:
		return OutcomeError
	default:
		return OutcomePartial
	}
}

type observability struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

func newObservability(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *observability {
	return &observability{logger: logger, metrics: metrics, tracer: tracer}
}

func (o *observability) startSpan(ctx context.Context, op OperationType, attrs ...attribute.KeyValue) (context.Context, telemetry.Span) {
	return o.tracer.Start(ctx, "ensemble."+string(op),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// recordBackend records latency and outcome of a single invocation.
//   - ensemble.backend.duration: histogram tagged by backend and outcome
//   - ensemble.backend.error: counter tagged by backend and cause
func (o *observability) recordBackend(res result) {
	outcome := OutcomeSuccess
	if res.err != nil {
		outcome = OutcomeError
	}
	tags := []string{"backend", res.name, "outcome", string(outcome)}
	o.metrics.RecordTimer("ensemble.backend.duration", res.elapsed, tags...)
	if res.err != nil {
		o.metrics.IncCounter("ensemble.backend.error", 1,
			"backend", res.name, "cause", string(res.err.Cause()))
	}
}

// finish logs the event, records its metrics and ends the span.
func (o *observability) finish(ctx context.Context, span telemetry.Span, event OperationEvent) {
	outcome := event.Outcome()
	keyvals := []any{
		"operation", string(event.Operation),
		"outcome", string(outcome),
		"duration_ms", event.Duration.Milliseconds(),
		"backend_count", event.BackendCount,
		"success_count", event.SuccessCount,
	}
	if event.RequestID != "" {
		keyvals = append(keyvals, "request_id", event.RequestID)
	}
	msg := "ensemble operation completed"
	switch outcome {
	case OutcomeError:
		o.logger.Error(ctx, msg, keyvals...)
	case OutcomePartial:
		o.logger.Warn(ctx, msg, keyvals...)
	default:
		o.logger.Info(ctx, msg, keyvals...)
	}

	tags := []string{"operation", string(event.Operation), "outcome", string(outcome)}
	o.metrics.RecordTimer("ensemble.operation.duration", event.Duration, tags...)
	o.metrics.RecordGauge("ensemble.operation.success_count", float64(event.SuccessCount), tags...)

	if outcome == OutcomeError {
		span.SetStatus(codes.Error, "all backends failed")
	} else {
		span.SetStatus(codes.Ok, string(outcome))
	}
	span.End()
}
