package breaker

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBreakerTripProperty verifies that for any threshold k, k consecutive
// failures quarantine the breaker and k-1 do not, and that Release restores a
// usable, fully healthy breaker.
func TestBreakerTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("k consecutive failures trip, release restores", prop.ForAll(
		func(k int) bool {
			b := New("s", WithThreshold(k))
			for i := 0; i < k-1; i++ {
				if b.RecordFailure() || !b.Usable() {
					return false
				}
			}
			if !b.RecordFailure() || b.Usable() {
				return false
			}
			b.Release()
			s := b.Snapshot()
			return b.Usable() && s.ConsecutiveFailures == 0 && s.Health == 1
		},
		gen.IntRange(1, 50),
	))

	properties.Property("health stays in [0,1]", prop.ForAll(
		func(ops []bool) bool {
			b := New("s")
			for _, ok := range ops {
				if ok {
					b.RecordSuccess()
				} else {
					b.RecordFailure()
				}
				h := b.Snapshot().Health
				if h < 0 || h > 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
