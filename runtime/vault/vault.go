// Package vault tests untrusted input against an isolated set of disposable
// sentry backends before it reaches production parsers. Each sentry sits
// behind a circuit breaker; unreliable sentries are quarantined until an
// operator releases them.
package vault

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/breaker"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/consensus"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/diagnostics"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/ensemble"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/telemetry"
)

// HealthStatus summarises sentry availability after a request.
type HealthStatus string

const (
	// AllHealthy means every sentry is usable.
	AllHealthy HealthStatus = "all_healthy"
	// SomeQuarantined means at least one, but not every, sentry is quarantined.
	SomeQuarantined HealthStatus = "some_quarantined"
	// AllQuarantined means no sentry is usable.
	AllQuarantined HealthStatus = "all_quarantined"
)

type (
	// Vault gates input through the sentry ensemble. It is safe for
	// concurrent use.
	Vault struct {
		cfg      Config
		sentries *ensemble.Ensemble
		names    []string
		breakers map[string]*breaker.Breaker
		diag     *diagnostics.Registry
		judge    consensus.Judge
		repl     Replicator

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		obs     *observability

		statsMu sync.Mutex
		stats   Stats

		monitorMu     sync.Mutex
		monitorCancel context.CancelFunc
		monitorWg     sync.WaitGroup

		ensembleOpts []ensemble.Option
		prober       diagnostics.Prober
	}

	// Stats holds monotonically increasing request counters.
	Stats struct {
		TotalRequests          uint64 `json:"total_requests"`
		HealthyRequests        uint64 `json:"healthy_requests"`
		DegradedRequests       uint64 `json:"degraded_requests"`
		SentriesQuarantined    uint64 `json:"sentries_quarantined"`
		PoisonedInputsDetected uint64 `json:"poisoned_inputs_detected"`
		// RequestsRejected counts admission failures: inputs refused because
		// every sentry is quarantined, and inputs for which no sentry produced
		// a verdict.
		RequestsRejected uint64 `json:"requests_rejected"`
	}

	// Result is the vault's decision for one input.
	Result struct {
		// RequestID correlates the decision with logs.
		RequestID string `json:"request_id"`
		// Consensus is the aggregate sentry verdict.
		Consensus consensus.Consensus `json:"consensus"`
		// HealthStatus is the sentry availability after the request.
		HealthStatus HealthStatus `json:"health_status"`
		// Poisoned reports whether the consensus flagged the input.
		Poisoned bool `json:"poisoned"`
		// Sentries is the raw ensemble outcome.
		Sentries *ensemble.Outcome `json:"-"`
	}

	// Replicator propagates operator quarantine decisions to other vault
	// processes.
	Replicator interface {
		Announce(ctx context.Context, sentry string, quarantined bool) error
	}

	// Option configures a Vault.
	Option func(*Vault)
)

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(v *Vault) {
		v.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(v *Vault) {
		v.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(v *Vault) {
		v.tracer = t
	}
}

// WithProber sets the diagnostics prober. The default reports baselines.
func WithProber(p diagnostics.Prober) Option {
	return func(v *Vault) {
		v.prober = p
	}
}

// WithJudge sets how verdicts are read from sentry outcomes.
func WithJudge(j consensus.Judge) Option {
	return func(v *Vault) {
		if j != nil {
			v.judge = j
		}
	}
}

// WithReplicator announces operator decisions to other processes.
func WithReplicator(r Replicator) Option {
	return func(v *Vault) {
		v.repl = r
	}
}

// WithEnsembleOptions passes options (typically timeouts) to the sentry
// ensemble.
func WithEnsembleOptions(opts ...ensemble.Option) Option {
	return func(v *Vault) {
		v.ensembleOpts = append(v.ensembleOpts, opts...)
	}
}

// New builds a vault over sentries. Every sentry gets a breaker and a
// baseline of 1.0. Sentry names must be non-empty and unique.
func New(sentries []backend.Backend, cfg Config, opts ...Option) (*Vault, error) {
	if len(sentries) == 0 {
		return nil, backend.Configuration("vault requires at least one sentry")
	}
	if cfg.MinHealthScore < 0 || cfg.MinHealthScore > 1 {
		return nil, backend.Configuration("min health score %v outside [0, 1]", cfg.MinHealthScore)
	}
	if cfg.FailureThreshold < 0 {
		return nil, backend.Configuration("negative failure threshold %d", cfg.FailureThreshold)
	}
	v := &Vault{
		cfg:      cfg,
		breakers: make(map[string]*breaker.Breaker, len(sentries)),
		judge:    consensus.DefaultJudge,
	}
	for _, s := range sentries {
		if s == nil || s.Name() == "" {
			return nil, backend.Configuration("sentry with empty name")
		}
		name := s.Name()
		if _, dup := v.breakers[name]; dup {
			return nil, backend.Configuration("duplicate sentry %q", name)
		}
		v.breakers[name] = breaker.New(name, cfg.breakerOptions()...)
		v.names = append(v.names, name)
	}
	slices.Sort(v.names)

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.logger == nil {
		v.logger = telemetry.NewNoopLogger()
	}
	if v.metrics == nil {
		v.metrics = telemetry.NewNoopMetrics()
	}
	if v.tracer == nil {
		v.tracer = telemetry.NewNoopTracer()
	}
	v.obs = newObservability(v.logger, v.metrics, v.tracer)

	interval := 0
	if cfg.EnableHealthMonitoring {
		interval = cfg.HealthCheckInterval
	}
	v.diag = diagnostics.NewRegistry(interval, diagnostics.WithProber(v.prober))
	for _, name := range v.names {
		v.diag.RecordBaseline(name, 1.0)
	}

	eopts := append([]ensemble.Option{
		ensemble.WithLogger(v.logger),
		ensemble.WithMetrics(v.metrics),
		ensemble.WithTracer(v.tracer),
	}, v.ensembleOpts...)
	v.sentries = ensemble.New(sentries, eopts...)

	v.logger.Info(context.Background(), "vault initialized", "sentries", v.names)
	return v, nil
}

// Sentries returns the sentry names in sorted order.
func (v *Vault) Sentries() []string {
	return slices.Clone(v.names)
}

// TestInput runs req through every usable sentry and returns the consensus.
// It fails with a KindAdmission error when no sentry is usable and the
// policy rejects such requests, or when no sentry produced a verdict.
func (v *Vault) TestInput(ctx context.Context, req backend.Request) (*Result, error) {
	req = req.WithRequestID()
	start := time.Now()
	ctx, span := v.obs.startSpan(ctx, OpTestInput, attribute.String("request_id", req.RequestID))

	event := OperationEvent{Operation: OpTestInput, RequestID: req.RequestID}
	var opErr error
	defer func() {
		event.Duration = time.Since(start)
		if opErr != nil {
			event.Error = opErr.Error()
		}
		v.obs.logOperation(ctx, event)
		v.obs.recordOperationMetrics(event)
		v.obs.endSpan(span, event.Outcome, opErr)
	}()

	v.statsMu.Lock()
	v.stats.TotalRequests++
	n := v.stats.TotalRequests
	v.statsMu.Unlock()

	if v.diag.Due(n) {
		span.AddEvent("health_check", "request", n)
		v.RunDiagnostics(ctx)
	}

	usable := v.usable()
	if len(usable) == 0 {
		if v.cfg.RejectIfAllQuarantined {
			v.statsMu.Lock()
			v.stats.RequestsRejected++
			v.statsMu.Unlock()
			event.Outcome = OutcomeRejected
			event.HealthStatus = AllQuarantined
			opErr = backend.Admission("all sentries are quarantined")
			return nil, opErr
		}
		v.logger.Warn(ctx, "all sentries quarantined, testing with every sentry",
			"request_id", req.RequestID)
		usable = v.names
	}

	allowed := make(map[string]struct{}, len(usable))
	for _, name := range usable {
		allowed[name] = struct{}{}
	}
	out := v.sentries.ParseSelected(ctx, req, func(name string) bool {
		_, ok := allowed[name]
		return ok
	})
	v.record(ctx, out)

	verdicts := make([]consensus.Verdict, 0, len(out.Results))
	for _, r := range out.Results {
		if vd, ok := v.judge(r); ok {
			verdicts = append(verdicts, vd)
		}
	}
	status := v.healthStatus()
	event.HealthStatus = status

	if len(verdicts) == 0 {
		v.statsMu.Lock()
		v.stats.RequestsRejected++
		v.statsMu.Unlock()
		event.Outcome = OutcomeRejected
		opErr = backend.Admission("no sentry produced a verdict (%d invoked, %d failed)",
			out.BackendCount, len(out.Errors))
		return nil, opErr
	}

	c := v.cfg.Consensus.Decide(verdicts)
	event.Total = c.Total
	event.Suspicious = c.Suspicious

	if v.cfg.LogSentryResponses {
		for _, vd := range c.Verdicts {
			v.logger.Debug(ctx, "sentry verdict",
				"request_id", req.RequestID,
				"sentry", vd.Sentry,
				"suspicious", vd.Suspicious,
				"confidence", vd.Confidence,
				"reason", vd.Reason)
		}
		v.logger.Debug(ctx, "vault sentry results",
			"request_id", req.RequestID,
			"tested", c.Total,
			"suspicious", c.Suspicious)
	}

	v.statsMu.Lock()
	if c.Corrupted {
		v.stats.PoisonedInputsDetected++
	}
	if status == AllHealthy {
		v.stats.HealthyRequests++
	} else {
		v.stats.DegradedRequests++
	}
	v.statsMu.Unlock()

	event.Outcome = OutcomeClean
	if c.Corrupted {
		event.Outcome = OutcomePoisoned
	}
	return &Result{
		RequestID:    req.RequestID,
		Consensus:    c,
		HealthStatus: status,
		Poisoned:     c.Corrupted,
		Sentries:     out,
	}, nil
}

// record feeds the ensemble outcome into the breakers. Invoked sentries
// without a result count as failures, which also covers recovered panics
// attributed to the unknown identity.
func (v *Vault) record(ctx context.Context, out *ensemble.Outcome) {
	for _, name := range out.Invoked {
		b := v.breakers[name]
		if out.Succeeded(name) {
			b.RecordSuccess()
			continue
		}
		if b.RecordFailure() {
			v.tripped(ctx, name, "consecutive invocation failures")
		}
	}
}

func (v *Vault) tripped(ctx context.Context, name, reason string) {
	v.statsMu.Lock()
	v.stats.SentriesQuarantined++
	v.statsMu.Unlock()
	v.logger.Warn(ctx, "sentry quarantined", "sentry", name, "reason", reason)
	v.metrics.IncCounter("vault.sentry.quarantined", 1, "sentry", name, "source", "breaker")
}

func (v *Vault) usable() []string {
	names := make([]string, 0, len(v.names))
	for _, name := range v.names {
		if v.breakers[name].Usable() {
			names = append(names, name)
		}
	}
	return names
}

func (v *Vault) healthStatus() HealthStatus {
	n := len(v.usable())
	switch {
	case n == len(v.names):
		return AllHealthy
	case n == 0:
		return AllQuarantined
	default:
		return SomeQuarantined
	}
}

// RunDiagnostics evaluates every sentry and feeds the reports into the
// breakers: a probe error or a score below MinHealthScore is a failure,
// anything else a success. Passive reports advance the iteration only and
// leave breakers untouched.
func (v *Vault) RunDiagnostics(ctx context.Context) []diagnostics.Report {
	start := time.Now()
	ctx, span := v.obs.startSpan(ctx, OpHealthCheck)
	v.logger.Info(ctx, "vault health check started", "sentries", len(v.names))

	reports := v.diag.Evaluate(ctx, v.names)
	failed := 0
	for _, r := range reports {
		if r.Passive {
			continue
		}
		b := v.breakers[r.Name]
		if r.Err != nil || r.Score < v.cfg.MinHealthScore {
			failed++
			v.logger.Warn(ctx, "sentry failed health check",
				"sentry", r.Name, "score", r.Score, "previous", r.Previous, "error", r.Err)
			if b.RecordFailure() {
				v.tripped(ctx, r.Name, "failed health check")
			}
			continue
		}
		b.RecordSuccess()
	}

	event := OperationEvent{
		Operation: OpHealthCheck,
		Duration:  time.Since(start),
		Outcome:   OutcomeSuccess,
		Total:     len(reports),
		Failed:    failed,
	}
	if failed > 0 {
		event.Outcome = OutcomeDegraded
	}
	v.obs.logOperation(ctx, event)
	v.obs.recordOperationMetrics(event)
	v.obs.endSpan(span, event.Outcome, nil)
	return reports
}

// Quarantine isolates the named sentry and announces the decision.
func (v *Vault) Quarantine(ctx context.Context, name string) error {
	return v.operate(ctx, OpQuarantine, name, true, true)
}

// Release restores the named sentry and announces the decision.
func (v *Vault) Release(ctx context.Context, name string) error {
	return v.operate(ctx, OpRelease, name, false, true)
}

// ApplyRemote applies an operator decision taken on another process. It is
// never announced back.
func (v *Vault) ApplyRemote(ctx context.Context, name string, quarantined bool) error {
	op := OpRelease
	if quarantined {
		op = OpQuarantine
	}
	return v.operate(ctx, op, name, quarantined, false)
}

func (v *Vault) operate(ctx context.Context, op OperationType, name string, quarantine, announce bool) error {
	start := time.Now()
	ctx, span := v.obs.startSpan(ctx, op, attribute.String("sentry", name))
	event := OperationEvent{Operation: op, Sentry: name, Outcome: OutcomeSuccess, Remote: !announce}
	var opErr error
	defer func() {
		event.Duration = time.Since(start)
		if opErr != nil {
			event.Outcome = OutcomeError
			event.Error = opErr.Error()
		}
		v.obs.logOperation(ctx, event)
		v.obs.recordOperationMetrics(event)
		v.obs.endSpan(span, event.Outcome, opErr)
	}()

	b, ok := v.breakers[name]
	if !ok {
		opErr = backend.NotFound(name)
		return opErr
	}
	if quarantine {
		if b.Quarantine() {
			v.statsMu.Lock()
			v.stats.SentriesQuarantined++
			v.statsMu.Unlock()
		}
	} else {
		b.Release()
	}
	if announce && v.repl != nil {
		if err := v.repl.Announce(ctx, name, quarantine); err != nil {
			v.logger.Error(ctx, "failed to replicate operator decision",
				"sentry", name, "quarantined", quarantine, "error", err)
		}
	}
	return nil
}

// StartMonitor runs diagnostics every interval until StopMonitor is called or
// ctx is canceled, in addition to the request-driven cadence.
func (v *Vault) StartMonitor(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		return backend.Configuration("monitor interval must be positive, got %s", every)
	}
	v.monitorMu.Lock()
	defer v.monitorMu.Unlock()
	if v.monitorCancel != nil {
		return errors.New("vault monitor already running")
	}
	mctx, cancel := context.WithCancel(ctx)
	v.monitorCancel = cancel
	v.monitorWg.Add(1)
	go func() {
		defer v.monitorWg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-mctx.Done():
				return
			case <-ticker.C:
				v.RunDiagnostics(mctx)
			}
		}
	}()
	v.logger.Info(ctx, "vault monitor started", "interval", every.String())
	return nil
}

// StopMonitor stops the background monitor and waits for it to exit.
func (v *Vault) StopMonitor() {
	v.monitorMu.Lock()
	cancel := v.monitorCancel
	v.monitorCancel = nil
	v.monitorMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	v.monitorWg.Wait()
	v.logger.Info(context.Background(), "vault monitor stopped")
}
