package vault

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/telemetry"
)

// OperationType identifies a vault operation for observability.
type OperationType string

const (
	// OpTestInput is the gate applied to one input.
	OpTestInput OperationType = "test_input"
	// OpHealthCheck is a diagnostics evaluation.
	OpHealthCheck OperationType = "health_check"
	// OpQuarantine is an operator quarantine.
	OpQuarantine OperationType = "quarantine"
	// OpRelease is an operator release.
	OpRelease OperationType = "release"
)

// OperationOutcome represents the result of an operation.
type OperationOutcome string

const (
	// OutcomeSuccess indicates the operation completed.
	OutcomeSuccess OperationOutcome = "success"
	// OutcomeClean indicates the input passed the sentries.
	OutcomeClean OperationOutcome = "clean"
	// OutcomePoisoned indicates the sentries flagged the input.
	OutcomePoisoned OperationOutcome = "poisoned"
	// OutcomeRejected indicates the vault refused to admit the input.
	OutcomeRejected OperationOutcome = "rejected"
	// OutcomeDegraded indicates a health check found failing sentries.
	OutcomeDegraded OperationOutcome = "degraded"
	// OutcomeError indicates the operation failed.
	OutcomeError OperationOutcome = "error"
)

// OperationEvent is the structured record of one vault operation.
type OperationEvent struct {
	Operation    OperationType
	RequestID    string
	Sentry       string
	Duration     time.Duration
	Outcome      OperationOutcome
	HealthStatus HealthStatus
	Total        int
	Suspicious   int
	Failed       int
	Remote       bool
	Error        string
}

type observability struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

func newObservability(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *observability {
	return &observability{logger: logger, metrics: metrics, tracer: tracer}
}

// logOperation emits one structured log line per operation.
func (o *observability) logOperation(ctx context.Context, event OperationEvent) {
	keyvals := []any{
		"operation", string(event.Operation),
		"outcome", string(event.Outcome),
		"duration_ms", event.Duration.Milliseconds(),
	}
	if event.RequestID != "" {
		keyvals = append(keyvals, "request_id", event.RequestID)
	}
	if event.Sentry != "" {
		keyvals = append(keyvals, "sentry", event.Sentry)
	}
	if event.HealthStatus != "" {
		keyvals = append(keyvals, "health_status", string(event.HealthStatus))
	}
	if event.Total > 0 {
		keyvals = append(keyvals, "total", event.Total, "suspicious", event.Suspicious)
	}
	if event.Failed > 0 {
		keyvals = append(keyvals, "failed", event.Failed)
	}
	if event.Remote {
		keyvals = append(keyvals, "remote", true)
	}
	if event.Error != "" {
		keyvals = append(keyvals, "error", event.Error)
	}

	msg := "vault operation completed"
	switch event.Outcome {
	case OutcomeError:
		o.logger.Error(ctx, msg, keyvals...)
	case OutcomePoisoned, OutcomeRejected, OutcomeDegraded:
		o.logger.Warn(ctx, msg, keyvals...)
	default:
		o.logger.Info(ctx, msg, keyvals...)
	}
}

// recordOperationMetrics records metrics for a vault operation.
//   - vault.operation.duration: histogram of operation latency
//   - vault.operation.<outcome>: counter per outcome
//   - vault.consensus.suspicious: gauge of suspicious verdicts per request
func (o *observability) recordOperationMetrics(event OperationEvent) {
	tags := []string{
		"operation", string(event.Operation),
		"outcome", string(event.Outcome),
	}
	if event.Sentry != "" {
		tags = append(tags, "sentry", event.Sentry)
	}
	o.metrics.RecordTimer("vault.operation.duration", event.Duration, tags...)
	o.metrics.IncCounter("vault.operation."+string(event.Outcome), 1, tags...)
	if event.Operation == OpTestInput && event.Total > 0 {
		o.metrics.RecordGauge("vault.consensus.suspicious", float64(event.Suspicious), tags...)
	}
}

func (o *observability) startSpan(ctx context.Context, op OperationType, attrs ...attribute.KeyValue) (context.Context, telemetry.Span) {
	return o.tracer.Start(ctx, "vault."+string(op),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// endSpan ends a span with the operation outcome.
func (o *observability) endSpan(span telemetry.Span, outcome OperationOutcome, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, string(outcome))
	}
	span.End()
}
