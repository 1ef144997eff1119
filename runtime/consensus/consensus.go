// Package consensus aggregates per-sentry verdicts into one corruption
// decision.
package consensus

type (
	// Verdict is one sentry's opinion of an input.
	Verdict struct {
		// Sentry is the name of the sentry that produced the verdict.
		Sentry string `json:"sentry"`
		// Suspicious reports whether the sentry considers the input adversarial.
		Suspicious bool `json:"suspicious"`
		// Confidence is the sentry's confidence in [0, 1].
		Confidence float64 `json:"confidence"`
		// Reason is an optional human-readable explanation.
		Reason string `json:"reason,omitempty"`
	}

	// Consensus is the aggregate decision for one request.
	Consensus struct {
		// Total is the number of verdicts considered.
		Total int `json:"total"`
		// Suspicious is the number of suspicious verdicts.
		Suspicious int `json:"suspicious"`
		// Corrupted is the aggregate verdict.
		Corrupted bool `json:"corrupted"`
		// Verdicts are the inputs the decision was derived from.
		Verdicts []Verdict `json:"verdicts"`
	}

	// Rule decides when a set of verdicts is corrupted. The zero value
	// behaves like Default.
	Rule struct {
		// MinSuspicious is the number of suspicious verdicts required. Values
		// below 1 are treated as 1.
		MinSuspicious int `yaml:"min_suspicious" json:"min_suspicious"`
		// Majority additionally requires strictly more than half of the
		// verdicts to be suspicious.
		Majority bool `yaml:"majority" json:"majority"`
	}
)

// Default flags the input as soon as one sentry finds it suspicious.
var Default = Rule{MinSuspicious: 1}

// Decide applies the rule to verdicts. Zero verdicts are never corrupted.
func (r Rule) Decide(verdicts []Verdict) Consensus {
	c := Consensus{
		Total:    len(verdicts),
		Verdicts: append([]Verdict(nil), verdicts...),
	}
	for _, v := range verdicts {
		if v.Suspicious {
			c.Suspicious++
		}
	}
	if c.Total == 0 {
		return c
	}
	need := max(r.MinSuspicious, 1)
	c.Corrupted = c.Suspicious >= need
	if r.Majority {
		c.Corrupted = c.Corrupted && 2*c.Suspicious > c.Total
	}
	return c
}
