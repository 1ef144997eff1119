// Package breaker implements the per-sentry circuit breaker used by the
// vault. A breaker is either Closed (usable) or Quarantined; there is no
// half-open state and recovery is always an explicit Release.
package breaker

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is the number of consecutive failures that trips a
	// breaker.
	DefaultThreshold = 3

	// DefaultRecoveryStep is the health regained per success.
	DefaultRecoveryStep = 0.1
)

// State is the breaker position.
type State string

const (
	// StateClosed means the backend is usable.
	StateClosed State = "closed"
	// StateQuarantined means the backend is isolated until released.
	StateQuarantined State = "quarantined"
)

type (
	// Breaker tracks the health of one backend. It is safe for concurrent
	// use; every mutation happens under the breaker's own lock.
	Breaker struct {
		name         string
		threshold    int
		penalty      float64
		recoveryStep float64
		autoTrip     bool
		now          func() time.Time

		mu          sync.Mutex
		health      float64
		failures    int
		quarantined bool
		changedAt   time.Time
	}

	// Snapshot is a value copy of a breaker's state.
	Snapshot struct {
		// Name is the backend the breaker guards.
		Name string `json:"name"`
		// State is closed or quarantined.
		State State `json:"state"`
		// Health is the current health score in [0, 1].
		Health float64 `json:"health"`
		// ConsecutiveFailures counts failures since the last success or release.
		ConsecutiveFailures int `json:"consecutive_failures"`
		// Quarantined mirrors State == StateQuarantined.
		Quarantined bool `json:"quarantined"`
		// ChangedAt is the time of the last state transition.
		ChangedAt time.Time `json:"changed_at"`
	}

	// Option configures a Breaker.
	Option func(*Breaker)
)

// WithThreshold sets the consecutive-failure threshold. Values below 1 are
// ignored.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n >= 1 {
			b.threshold = n
		}
	}
}

// WithRecoveryStep sets the health regained per success.
func WithRecoveryStep(step float64) Option {
	return func(b *Breaker) {
		if step >= 0 {
			b.recoveryStep = step
		}
	}
}

// WithAutoQuarantine controls whether reaching the threshold quarantines the
// breaker. When disabled failures still lower health but only Quarantine
// isolates the backend.
func WithAutoQuarantine(enabled bool) Option {
	return func(b *Breaker) {
		b.autoTrip = enabled
	}
}

// WithClock overrides the clock used to stamp transitions.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New returns a closed, fully healthy breaker for name.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		threshold:    DefaultThreshold,
		recoveryStep: DefaultRecoveryStep,
		autoTrip:     true,
		now:          time.Now,
		health:       1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.penalty = 1 / float64(b.threshold)
	b.changedAt = b.now()
	return b
}

// Name returns the guarded backend name.
func (b *Breaker) Name() string { return b.name }

// Threshold returns the consecutive-failure threshold.
func (b *Breaker) Threshold() int { return b.threshold }

// RecordSuccess resets the failure streak and restores some health. It does
// not release a quarantined breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.quarantined {
		return
	}
	b.health = min(1, b.health+b.recoveryStep)
}

// RecordFailure registers a failure and reports whether this call moved the
// breaker from closed to quarantined.
func (b *Breaker) RecordFailure() (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.health = max(0, b.health-b.penalty)
	if b.autoTrip && b.failures >= b.threshold {
		b.health = 0
		if !b.quarantined {
			b.quarantined = true
			b.changedAt = b.now()
			return true
		}
	}
	return false
}

// Quarantine isolates the backend regardless of its failure streak and
// reports whether the breaker was closed before the call.
func (b *Breaker) Quarantine() (changed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health = 0
	if b.quarantined {
		return false
	}
	b.quarantined = true
	b.changedAt = b.now()
	return true
}

// Release closes the breaker and restores full health.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.health = 1
	if b.quarantined {
		b.quarantined = false
		b.changedAt = b.now()
	}
}

// Usable reports whether the backend may be invoked.
func (b *Breaker) Usable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.quarantined
}

// Snapshot returns a copy of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := StateClosed
	if b.quarantined {
		state = StateQuarantined
	}
	return Snapshot{
		Name:                b.name,
		State:               state,
		Health:              b.health,
		ConsecutiveFailures: b.failures,
		Quarantined:         b.quarantined,
		ChangedAt:           b.changedAt,
	}
}
