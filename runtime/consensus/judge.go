package consensus

import "github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"

// SuspicionThreshold is the confidence at or above which DefaultJudge treats
// an outcome without a typed verdict as suspicious.
const SuspicionThreshold = 0.5

type (
	// Judge extracts a verdict from a sentry outcome. ok is false when the
	// outcome carries no usable verdict.
	Judge func(out *backend.Outcome) (v Verdict, ok bool)

	// Suspicioner is implemented by sentry payloads that carry an explicit
	// verdict.
	Suspicioner interface {
		Suspicious() bool
	}

	// Reasoner is optionally implemented by payloads to explain a verdict.
	Reasoner interface {
		Reason() string
	}
)

// DefaultJudge reads the verdict from a Suspicioner payload and otherwise
// treats a confidence of SuspicionThreshold or more as suspicious.
func DefaultJudge(out *backend.Outcome) (Verdict, bool) {
	if out == nil {
		return Verdict{}, false
	}
	v := Verdict{Sentry: out.Backend, Confidence: out.Confidence}
	if r, ok := out.Payload.(Reasoner); ok {
		v.Reason = r.Reason()
	}
	if s, ok := out.Payload.(Suspicioner); ok {
		v.Suspicious = s.Suspicious()
		return v, true
	}
	v.Suspicious = out.Confidence >= SuspicionThreshold
	return v, true
}
