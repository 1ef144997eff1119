package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/llm"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

type fakeCompleter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeCompleter) Complete(context.Context, llm.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "{}", f.err
}

type fakeBudgetMap struct {
	mu     sync.Mutex
	values map[string]string
	events chan rmap.EventKind
}

func newFakeBudgetMap() *fakeBudgetMap {
	return &fakeBudgetMap{values: map[string]string{}, events: make(chan rmap.EventKind, 8)}
}

func (m *fakeBudgetMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *fakeBudgetMap) SetIfNotExists(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *fakeBudgetMap) TestAndSet(_ context.Context, key, test, value string) (string, error) {
	m.mu.Lock()
	cur, ok := m.values[key]
	if ok && cur == test {
		m.values[key] = value
	}
	m.mu.Unlock()
	if ok && cur == test {
		m.notify()
	}
	return cur, nil
}

func (m *fakeBudgetMap) Subscribe() <-chan rmap.EventKind { return m.events }

func (m *fakeBudgetMap) set(key, value string) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	m.notify()
}

func (m *fakeBudgetMap) notify() {
	select {
	case m.events <- rmap.EventChange:
	default:
	}
}

func rateLimited() error {
	return backend.Invocation("openai", backend.CauseRateLimited, "429", nil)
}

// TestRateLimiterBacksOffOnRateLimit verifies the budget halves when the
// provider throttles.
func TestRateLimiterBacksOffOnRateLimit(t *testing.T) {
	l := NewAdaptiveRateLimiter(context.Background(), RateLimitOptions{TokensPerMinute: 60000})
	c := l.Middleware()(&fakeCompleter{err: rateLimited()})

	_, err := c.Complete(context.Background(), llm.Prompt{User: "hello", MaxTokens: 10})
	require.Error(t, err)
	require.InDelta(t, 30000, l.TokensPerMinute(), 1e-9)
}

func TestRateLimiterBackoffStopsAtFloor(t *testing.T) {
	l := NewAdaptiveRateLimiter(context.Background(), RateLimitOptions{TokensPerMinute: 60000})
	for range 10 {
		l.observe(rateLimited())
	}
	require.InDelta(t, 6000, l.TokensPerMinute(), 1e-9)
}

// TestRateLimiterProbesOnSuccess verifies the budget grows up to the ceiling.
func TestRateLimiterProbesOnSuccess(t *testing.T) {
	l := NewAdaptiveRateLimiter(context.Background(), RateLimitOptions{TokensPerMinute: 60000, MaxTokensPerMinute: 62000})
	c := l.Middleware()(&fakeCompleter{})

	_, err := c.Complete(context.Background(), llm.Prompt{User: "hello", MaxTokens: 10})
	require.NoError(t, err)
	require.InDelta(t, 62000, l.TokensPerMinute(), 1e-9)

	_, err = c.Complete(context.Background(), llm.Prompt{User: "hello", MaxTokens: 10})
	require.NoError(t, err)
	require.InDelta(t, 62000, l.TokensPerMinute(), 1e-9)
}

func TestRateLimiterIgnoresOtherErrors(t *testing.T) {
	l := NewAdaptiveRateLimiter(context.Background(), RateLimitOptions{TokensPerMinute: 60000})
	c := l.Middleware()(&fakeCompleter{err: errors.New("boom")})
	_, err := c.Complete(context.Background(), llm.Prompt{})
	require.Error(t, err)
	require.InDelta(t, 60000, l.TokensPerMinute(), 1e-9)
}

// TestRateLimiterRejectsWithoutCalling verifies an exhausted budget fails
// without reaching the provider.
func TestRateLimiterRejectsWithoutCalling(t *testing.T) {
	l := NewAdaptiveRateLimiter(context.Background(), RateLimitOptions{TokensPerMinute: 60})
	l.limiter = rate.NewLimiter(0, 0)
	inner := &fakeCompleter{}
	c := l.Middleware()(inner)

	_, err := c.Complete(context.Background(), llm.Prompt{User: "hello"})
	be, ok := backend.AsError(err)
	require.True(t, ok)
	require.Equal(t, backend.CauseRateLimited, be.Cause())
	require.Zero(t, inner.calls)
}

func TestEstimateTokensGrowsWithPrompt(t *testing.T) {
	small := estimateTokens(llm.Prompt{User: "short"})
	big := estimateTokens(llm.Prompt{User: "this is a much longer message than the other"})
	require.Positive(t, small)
	require.Greater(t, big, small)
	require.Equal(t, 100, estimateTokens(llm.Prompt{MaxTokens: 100}))
}

// TestSharedBudgetBackoffUpdatesMap verifies a local backoff is published to
// the shared budget.
func TestSharedBudgetBackoffUpdatesMap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newFakeBudgetMap()
	m.values["openai"] = "80000"

	l := newAdaptiveRateLimiter(ctx, m, RateLimitOptions{TokensPerMinute: 1000, Key: "openai"})
	require.InDelta(t, 80000, l.TokensPerMinute(), 1e-9)

	_, _ = l.Middleware()(&fakeCompleter{err: rateLimited()}).Complete(ctx, llm.Prompt{User: "hi"})
	require.Eventually(t, func() bool {
		v, _ := m.Get("openai")
		n, err := strconv.Atoi(v)
		return err == nil && n < 80000
	}, time.Second, 5*time.Millisecond)
}

func TestSharedBudgetSeedsAndFollows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newFakeBudgetMap()

	l := newAdaptiveRateLimiter(ctx, m, RateLimitOptions{TokensPerMinute: 50000, Key: "claude"})
	v, ok := m.Get("claude")
	require.True(t, ok)
	require.Equal(t, "50000", v)

	m.set("claude", "20000")
	require.Eventually(t, func() bool {
		return l.TokensPerMinute() == 20000
	}, time.Second, 5*time.Millisecond)
}

func TestTimeoutBoundsCompletion(t *testing.T) {
	slow := llm.CompleterFunc(func(ctx context.Context, _ llm.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	c := Chain(slow, Timeout(10*time.Millisecond), nil)
	_, err := c.Complete(context.Background(), llm.Prompt{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
