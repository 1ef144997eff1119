package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/llm"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

const (
	// DefaultTokensPerMinute is used when no budget is configured.
	DefaultTokensPerMinute = 60000

	floorRatio    = 0.1
	recoveryRatio = 0.05
	backoffFactor = 0.5

	// defaultReserve approximates the completion size when the prompt does
	// not cap it.
	defaultReserve = 256

	sharedAttempts = 3
	sharedTimeout  = 2 * time.Second
)

type (
	// RateLimitOptions configures an AdaptiveRateLimiter.
	RateLimitOptions struct {
		// TokensPerMinute is the initial budget.
		TokensPerMinute float64
		// MaxTokensPerMinute caps recovery. Values below TokensPerMinute are
		// raised to it.
		MaxTokensPerMinute float64
		// Shared, when set together with Key, coordinates the budget across
		// processes through a Pulse replicated map.
		Shared *rmap.Map
		// Key names the budget entry in Shared.
		Key string
	}

	// AdaptiveRateLimiter paces completions against a tokens-per-minute budget
	// using additive-increase/multiplicative-decrease. The budget halves
	// (down to a floor) whenever the provider reports rate limiting and grows
	// by a fixed step after every successful call.
	AdaptiveRateLimiter struct {
		mu      sync.Mutex
		limiter *rate.Limiter
		current float64
		floor   float64
		ceiling float64
		step    float64
		shared  *sharedBudget
	}

	// budgetMap is the subset of rmap.Map used to share the budget.
	budgetMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	sharedBudget struct {
		m   budgetMap
		key string
	}
)

// NewAdaptiveRateLimiter returns a limiter configured by opts. When a shared
// map is configured the limiter seeds or adopts the cluster budget and
// follows its changes until ctx is canceled. If seeding fails the limiter
// falls back to a process-local budget.
func NewAdaptiveRateLimiter(ctx context.Context, opts RateLimitOptions) *AdaptiveRateLimiter {
	var m budgetMap
	if opts.Shared != nil {
		m = opts.Shared
	}
	return newAdaptiveRateLimiter(ctx, m, opts)
}

func newAdaptiveRateLimiter(ctx context.Context, m budgetMap, opts RateLimitOptions) *AdaptiveRateLimiter {
	initial := opts.TokensPerMinute
	if initial <= 0 {
		initial = DefaultTokensPerMinute
	}
	if m == nil || opts.Key == "" {
		return newLocalLimiter(initial, opts.MaxTokensPerMinute)
	}
	if _, ok := m.Get(opts.Key); !ok {
		if _, err := m.SetIfNotExists(ctx, opts.Key, formatTPM(initial)); err != nil {
			return newLocalLimiter(initial, opts.MaxTokensPerMinute)
		}
	}
	if v, ok := readTPM(m, opts.Key); ok {
		initial = v
	}
	l := newLocalLimiter(initial, opts.MaxTokensPerMinute)
	l.shared = &sharedBudget{m: m, key: opts.Key}
	go l.follow(ctx, m.Subscribe())
	return l
}

func newLocalLimiter(initial, ceiling float64) *AdaptiveRateLimiter {
	if ceiling < initial {
		ceiling = initial
	}
	return &AdaptiveRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(initial/60), int(initial)),
		current: initial,
		floor:   max(1, initial*floorRatio),
		ceiling: ceiling,
		step:    max(1, initial*recoveryRatio),
	}
}

// Middleware returns the limiter as a completer decorator.
func (l *AdaptiveRateLimiter) Middleware() Middleware {
	return func(next llm.Completer) llm.Completer {
		if next == nil {
			return nil
		}
		return llm.CompleterFunc(func(ctx context.Context, p llm.Prompt) (string, error) {
			if err := l.limiter.WaitN(ctx, estimateTokens(p)); err != nil {
				return "", backend.Invocation("", backend.CauseRateLimited, "local token budget exhausted", err)
			}
			text, err := next.Complete(ctx, p)
			l.observe(err)
			return text, err
		})
	}
}

// TokensPerMinute returns the current budget.
func (l *AdaptiveRateLimiter) TokensPerMinute() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *AdaptiveRateLimiter) observe(err error) {
	switch {
	case err == nil:
		if l.adjust(func(cur float64) float64 { return cur + l.step }) && l.shared != nil {
			go l.shared.update(func(cur float64) float64 { return min(l.ceiling, cur+l.step) })
		}
	case backend.Classify(err) == backend.CauseRateLimited:
		if l.adjust(func(cur float64) float64 { return cur * backoffFactor }) && l.shared != nil {
			go l.shared.update(func(cur float64) float64 { return max(l.floor, cur*backoffFactor) })
		}
	}
}

// adjust applies fn to the current budget, clamps the result and reports
// whether the budget changed.
func (l *AdaptiveRateLimiter) adjust(fn func(float64) float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setLocked(fn(l.current))
}

func (l *AdaptiveRateLimiter) setLocked(tpm float64) bool {
	tpm = min(l.ceiling, max(l.floor, tpm))
	if tpm == l.current {
		return false
	}
	l.current = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60))
	l.limiter.SetBurst(int(tpm))
	return true
}

// follow adopts budget changes made by other processes.
func (l *AdaptiveRateLimiter) follow(ctx context.Context, events <-chan rmap.EventKind) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			v, ok := readTPM(l.shared.m, l.shared.key)
			if !ok {
				continue
			}
			l.mu.Lock()
			l.setLocked(v)
			l.mu.Unlock()
		}
	}
}

// update applies fn to the shared budget with optimistic concurrency.
func (s *sharedBudget) update(fn func(float64) float64) {
	ctx, cancel := context.WithTimeout(context.Background(), sharedTimeout)
	defer cancel()
	for range sharedAttempts {
		curStr, ok := s.m.Get(s.key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := formatTPM(fn(cur))
		if next == curStr {
			return
		}
		prev, err := s.m.TestAndSet(ctx, s.key, curStr, next)
		if err != nil || prev == curStr {
			return
		}
	}
}

func readTPM(m budgetMap, key string) (float64, bool) {
	s, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatTPM(v float64) string {
	return strconv.Itoa(int(v))
}

// estimateTokens approximates the cost of a completion: roughly one token per
// three characters of prompt plus the completion reserve.
func estimateTokens(p llm.Prompt) int {
	reserve := p.MaxTokens
	if reserve <= 0 {
		reserve = defaultReserve
	}
	return (len(p.System)+len(p.User))/3 + reserve
}
