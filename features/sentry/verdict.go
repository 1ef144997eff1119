// Package sentry defines the verdict a sentry backend returns for an input.
package sentry

// Verdict is a sentry's classification of an input. It satisfies the vault's
// verdict extraction through Suspicious and Reason.
type Verdict struct {
	// IsSuspicious reports whether the input looks adversarial.
	IsSuspicious bool `json:"suspicious"`
	// RiskScore is the estimated likelihood of an attack in [0, 1].
	RiskScore float64 `json:"risk_score"`
	// Explanation is a short justification.
	Explanation string `json:"reason,omitempty"`
	// Patterns lists the attack techniques recognised, if any.
	Patterns []string `json:"patterns,omitempty"`
}

// Suspicious reports the verdict.
func (v Verdict) Suspicious() bool { return v.IsSuspicious }

// Reason returns the explanation.
func (v Verdict) Reason() string { return v.Explanation }

// Schema is the JSON Schema LLM sentries must satisfy.
const Schema = `{
  "type": "object",
  "required": ["suspicious", "risk_score"],
  "properties": {
    "suspicious": {"type": "boolean"},
    "risk_score": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"},
    "patterns": {"type": "array", "items": {"type": "string"}}
  }
}`
