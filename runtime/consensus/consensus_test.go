package consensus

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func verdicts(flags ...bool) []Verdict {
	vs := make([]Verdict, len(flags))
	for i, f := range flags {
		vs[i] = Verdict{Sentry: string(rune('a' + i)), Suspicious: f}
	}
	return vs
}

// TestDefaultRuleAnySuspicious verifies a single suspicious verdict corrupts
// the input under the default rule.
func TestDefaultRuleAnySuspicious(t *testing.T) {
	c := Default.Decide(verdicts(false, false, true))
	require.True(t, c.Corrupted)
	require.Equal(t, 1, c.Suspicious)
	require.Equal(t, 3, c.Total)

	c = Default.Decide(verdicts(false, false, false))
	require.False(t, c.Corrupted)
	require.Equal(t, 0, c.Suspicious)
}

func TestZeroVerdictsNotCorrupted(t *testing.T) {
	c := Rule{}.Decide(nil)
	require.False(t, c.Corrupted)
	require.Equal(t, 0, c.Total)
}

// TestMajorityRule verifies the majority flag needs strictly more than half.
func TestMajorityRule(t *testing.T) {
	r := Rule{MinSuspicious: 1, Majority: true}
	require.False(t, r.Decide(verdicts(true, false)).Corrupted)
	require.True(t, r.Decide(verdicts(true, true, false)).Corrupted)
	require.False(t, r.Decide(verdicts(true, false, false)).Corrupted)
}

func TestMinSuspicious(t *testing.T) {
	r := Rule{MinSuspicious: 2}
	require.False(t, r.Decide(verdicts(true, false, false)).Corrupted)
	require.True(t, r.Decide(verdicts(true, true, false)).Corrupted)
}

// TestDecideCopiesVerdicts verifies the consensus does not alias the input.
func TestDecideCopiesVerdicts(t *testing.T) {
	in := verdicts(true)
	c := Default.Decide(in)
	in[0].Suspicious = false
	require.True(t, c.Verdicts[0].Suspicious)
}

// TestDefaultRuleProperty verifies the default rule is corrupted exactly when
// some verdict is suspicious and counts are consistent.
func TestDefaultRuleProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("corrupted iff any suspicious", prop.ForAll(
		func(flags []bool) bool {
			c := Default.Decide(verdicts(flags...))
			found := false
			n := 0
			for _, f := range flags {
				if f {
					found = true
					n++
				}
			}
			return c.Corrupted == found && c.Suspicious == n && c.Total == len(flags)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
