// Package diagnostics keeps per-sentry health baselines and evaluates them
// periodically through a pluggable Prober.
package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type (
	// Prober measures the current health of one sentry. Implementations
	// must be safe for concurrent use and honour ctx.
	Prober interface {
		Probe(ctx context.Context, name string) (score float64, err error)
	}

	// ProberFunc adapts a function to Prober.
	ProberFunc func(ctx context.Context, name string) (float64, error)

	// Baseline is the last recorded health value of a sentry.
	Baseline struct {
		// Value is the health score in [0, 1].
		Value float64 `json:"value"`
		// Iteration is the evaluation iteration that recorded the value; 0
		// for the initial baseline.
		Iteration uint64 `json:"iteration"`
		// RecordedAt is when the value was recorded.
		RecordedAt time.Time `json:"recorded_at"`
	}

	// Report is the result of probing one sentry.
	Report struct {
		// Name is the probed sentry.
		Name string
		// Score is the measured health in [0, 1].
		Score float64
		// Previous is the baseline value before this evaluation.
		Previous float64
		// Err is the probe failure, if any.
		Err error
		// Passive is set when no active prober measured the sentry; the score
		// only echoes the baseline and carries no health signal.
		Passive bool
	}

	// Registry stores baselines and schedules evaluations. It is safe for
	// concurrent use.
	Registry struct {
		interval uint64
		prober   Prober
		now      func() time.Time

		mu        sync.Mutex
		baselines map[string]Baseline
		iteration uint64
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, name string) (float64, error) {
	return f(ctx, name)
}

// WithProber sets the prober. The default is NoopProber.
func WithProber(p Prober) Option {
	return func(r *Registry) {
		if p != nil {
			r.prober = p
		}
	}
}

// WithClock overrides the clock used to stamp baselines.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry returns a registry evaluating every interval requests. A
// non-positive interval disables request-driven evaluation.
func NewRegistry(interval int, opts ...Option) *Registry {
	r := &Registry{
		baselines: make(map[string]Baseline),
		now:       time.Now,
	}
	if interval > 0 {
		r.interval = uint64(interval)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.prober == nil {
		r.prober = NoopProber{registry: r}
	}
	return r
}

// RecordBaseline stores value as the current baseline of name.
func (r *Registry) RecordBaseline(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baselines[name] = Baseline{Value: value, Iteration: r.iteration, RecordedAt: r.now()}
}

// Baseline returns the current baseline of name.
func (r *Registry) Baseline(name string) (Baseline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.baselines[name]
	return b, ok
}

// Baselines returns a copy of all baselines.
func (r *Registry) Baselines() map[string]Baseline {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Baseline, len(r.baselines))
	for k, v := range r.baselines {
		out[k] = v
	}
	return out
}

// Iteration returns the number of completed evaluations.
func (r *Registry) Iteration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iteration
}

// Due reports whether the request with the given 1-based sequence number
// should trigger an evaluation.
func (r *Registry) Due(request uint64) bool {
	return r.interval > 0 && request > 0 && request%r.interval == 0
}

// Evaluate probes every named sentry concurrently, rewrites their baselines
// and returns one report per name in the order given. Probe failures are
// reported, not returned; their baselines are left unchanged.
func (r *Registry) Evaluate(ctx context.Context, names []string) []Report {
	r.mu.Lock()
	r.iteration++
	iteration := r.iteration
	r.mu.Unlock()
	_, passive := r.prober.(NoopProber)

	reports := make([]Report, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			prev, _ := r.Baseline(name)
			defer func() {
				if rec := recover(); rec != nil {
					reports[i] = Report{Name: name, Previous: prev.Value, Err: fmt.Errorf("probe of %q panicked: %v", name, rec)}
				}
			}()
			score, err := r.prober.Probe(ctx, name)
			reports[i] = Report{Name: name, Score: clamp(score), Previous: prev.Value, Err: err, Passive: passive}
		}(i, name)
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	stamp := r.now()
	for _, rep := range reports {
		if rep.Err != nil {
			continue
		}
		r.baselines[rep.Name] = Baseline{Value: rep.Score, Iteration: iteration, RecordedAt: stamp}
	}
	return reports
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
