package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestBreakerTripsAtThreshold verifies the breaker quarantines on exactly the
// threshold-th consecutive failure and reports the transition once.
func TestBreakerTripsAtThreshold(t *testing.T) {
	b := New("sentry", WithThreshold(3))
	require.False(t, b.RecordFailure())
	require.False(t, b.RecordFailure())
	require.True(t, b.Usable())
	require.True(t, b.RecordFailure())
	require.False(t, b.Usable())
	require.False(t, b.RecordFailure(), "already quarantined")

	s := b.Snapshot()
	require.Equal(t, StateQuarantined, s.State)
	require.Equal(t, 0.0, s.Health)
	require.Equal(t, 4, s.ConsecutiveFailures)
}

// TestBreakerSuccessResetsStreak verifies a success in between failures
// prevents tripping.
func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := New("sentry")
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	require.False(t, b.RecordFailure())
	require.False(t, b.RecordFailure())
	require.True(t, b.Usable())
	require.Equal(t, 2, b.Snapshot().ConsecutiveFailures)
}

// TestBreakerHealthBounds verifies health decays by the penalty, recovers by
// the step and stays in [0, 1].
func TestBreakerHealthBounds(t *testing.T) {
	b := New("sentry", WithThreshold(4), WithRecoveryStep(0.5))
	b.RecordFailure()
	require.InDelta(t, 0.75, b.Snapshot().Health, 1e-9)
	b.RecordSuccess()
	require.Equal(t, 1.0, b.Snapshot().Health)
	b.RecordSuccess()
	require.Equal(t, 1.0, b.Snapshot().Health)
}

// TestBreakerQuarantineAndRelease verifies operator controls.
func TestBreakerQuarantineAndRelease(t *testing.T) {
	now := time.Unix(100, 0)
	b := New("sentry", WithClock(func() time.Time { return now }))
	now = now.Add(time.Second)
	require.True(t, b.Quarantine())
	require.False(t, b.Quarantine())
	require.False(t, b.Usable())
	require.Equal(t, time.Unix(101, 0), b.Snapshot().ChangedAt)

	b.RecordSuccess()
	require.False(t, b.Usable(), "success must not release")
	require.Equal(t, 0.0, b.Snapshot().Health)

	b.Release()
	s := b.Snapshot()
	require.True(t, b.Usable())
	require.Equal(t, 1.0, s.Health)
	require.Equal(t, 0, s.ConsecutiveFailures)
	require.Equal(t, StateClosed, s.State)
}

func TestBreakerIgnoresInvalidThreshold(t *testing.T) {
	require.Equal(t, DefaultThreshold, New("x", WithThreshold(0)).Threshold())
}

// TestBreakerConcurrentFailuresTripOnce verifies exactly one caller observes
// the transition under contention.
func TestBreakerConcurrentFailuresTripOnce(t *testing.T) {
	b := New("sentry", WithThreshold(5))
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		trips int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.RecordFailure() {
				mu.Lock()
				trips++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, trips)
	require.False(t, b.Usable())
}

// TestBreakerWithoutAutoQuarantine verifies failures only decay health when
// automatic quarantine is disabled.
func TestBreakerWithoutAutoQuarantine(t *testing.T) {
	b := New("sentry", WithThreshold(2), WithAutoQuarantine(false))
	for range 5 {
		require.False(t, b.RecordFailure())
	}
	require.True(t, b.Usable())
	require.Equal(t, 0.0, b.Snapshot().Health)
	require.True(t, b.Quarantine())
}
