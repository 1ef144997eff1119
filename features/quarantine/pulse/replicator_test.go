package pulse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/rmap"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/vault"
)

type fakeMap struct {
	mu     sync.Mutex
	values map[string]string
	subs   []chan rmap.EventKind
}

func newFakeMap() *fakeMap {
	return &fakeMap{values: map[string]string{}}
}

func (m *fakeMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *fakeMap) Set(_ context.Context, key, value string) (string, error) {
	m.mu.Lock()
	prev := m.values[key]
	m.values[key] = value
	subs := append([]chan rmap.EventKind(nil), m.subs...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- rmap.EventChange:
		default:
		}
	}
	return prev, nil
}

func (m *fakeMap) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

func (m *fakeMap) Subscribe() <-chan rmap.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan rmap.EventKind, 8)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *fakeMap) Unsubscribe(c <-chan rmap.EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ch := range m.subs {
		if ch == c {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

type applyCall struct {
	sentry      string
	quarantined bool
}

type recordingApplier struct {
	mu    sync.Mutex
	calls []applyCall
	err   error
}

func (a *recordingApplier) ApplyRemote(_ context.Context, sentry string, quarantined bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, applyCall{sentry, quarantined})
	return a.err
}

func (a *recordingApplier) snapshot() []applyCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]applyCall(nil), a.calls...)
}

func TestAnnounceWritesDecision(t *testing.T) {
	m := newFakeMap()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := newReplicator(m, WithNodeID("node-a"), WithClock(func() time.Time { return at }))

	require.NoError(t, r.Announce(context.Background(), "claude-sentry", true))
	d, ok := r.Decision("claude-sentry")
	require.True(t, ok)
	require.Equal(t, Decision{Quarantined: true, Node: "node-a", At: at}, d)

	_, ok = r.Decision("other")
	require.False(t, ok)
}

// TestRunAppliesRemoteDecisionsOnly verifies decisions written by other nodes
// are applied while the node's own announcements are skipped.
func TestRunAppliesRemoteDecisionsOnly(t *testing.T) {
	m := newFakeMap()
	a := newReplicator(m, WithNodeID("a"))
	b := newReplicator(m, WithNodeID("b"))

	require.NoError(t, a.Announce(context.Background(), "s1", true))

	ctx, cancel := context.WithCancel(context.Background())
	applier := &recordingApplier{}
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, applier) }()

	require.Eventually(t, func() bool { return len(applier.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, applyCall{"s1", true}, applier.snapshot()[0])

	require.NoError(t, b.Announce(context.Background(), "s2", true))
	require.NoError(t, a.Announce(context.Background(), "s1", false))
	require.Eventually(t, func() bool { return len(applier.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, applyCall{"s1", false}, applier.snapshot()[1])

	cancel()
	require.NoError(t, <-done)
	require.Len(t, applier.snapshot(), 2)
}

func TestRunSkipsMalformedAndFailedEntries(t *testing.T) {
	m := newFakeMap()
	m.values[keyPrefix+"bad"] = "{not json"
	m.values["unrelated"] = "x"
	m.values[keyPrefix+"gone"] = `{"quarantined":true,"node":"z"}`

	r := newReplicator(m, WithNodeID("me"))
	applier := &recordingApplier{err: backend.NotFound("gone")}
	r.sync(context.Background(), applier)
	require.Equal(t, []applyCall{{"gone", true}}, applier.snapshot())

	applier.err = errors.New("boom")
	r.sync(context.Background(), applier)
	require.Len(t, applier.snapshot(), 1)
}

func TestRunRequiresTarget(t *testing.T) {
	require.Error(t, newReplicator(newFakeMap()).Run(context.Background(), nil))
}

func TestJoinRequiresClient(t *testing.T) {
	_, err := Join(context.Background(), "", nil)
	require.Error(t, err)
}

// TestVaultsShareOperatorDecisions verifies an operator quarantine on one
// vault reaches a second vault through the shared map.
func TestVaultsShareOperatorDecisions(t *testing.T) {
	m := newFakeMap()
	sentries := func() []backend.Backend {
		ok := func(context.Context, backend.Request) (*backend.Outcome, error) {
			return &backend.Outcome{Confidence: 0.1}, nil
		}
		return []backend.Backend{backend.NewFunc("s1", ok), backend.NewFunc("s2", ok)}
	}
	ra := newReplicator(m, WithNodeID("a"))
	rb := newReplicator(m, WithNodeID("b"))

	va, err := vault.New(sentries(), vault.DefaultConfig(), vault.WithReplicator(ra))
	require.NoError(t, err)
	vb, err := vault.New(sentries(), vault.DefaultConfig(), vault.WithReplicator(rb))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rb.Run(ctx, vb) }()

	require.NoError(t, va.Quarantine(ctx, "s1"))
	require.Eventually(t, func() bool {
		usable, err := vb.Usable("s1")
		return err == nil && !usable
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, va.Release(ctx, "s1"))
	require.Eventually(t, func() bool {
		usable, err := vb.Usable("s1")
		return err == nil && usable
	}, time.Second, 5*time.Millisecond)
}
