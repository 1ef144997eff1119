package deterministic

import (
	"context"
	"regexp"
	"strings"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/sentry"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

// SentryName is the default name of the rule-based sentry.
const SentryName = "deterministic-sentry"

const (
	baselineRisk = 0.05
	patternRisk  = 0.7
	extraRisk    = 0.1
)

// Pattern is a named injection signature.
type Pattern struct {
	Name string
	Expr *regexp.Regexp
}

// DefaultPatterns are well-known prompt injection and jailbreak phrasings.
var DefaultPatterns = []Pattern{
	{"instruction_override", regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\b.{0,30}\b(previous|prior|above|earlier|all|your)\b.{0,20}\b(instructions?|rules|prompts?|directions|guidelines)\b`)},
	{"system_prompt_exfiltration", regexp.MustCompile(`(?i)\b(print|reveal|show|repeat|leak|output)\b.{0,30}\b(system prompt|hidden prompt|initial instructions|your instructions)\b`)},
	{"role_hijack", regexp.MustCompile(`(?i)\b(you are now|act as|pretend (to be|you are)|from now on you)\b`)},
	{"jailbreak_persona", regexp.MustCompile(`(?i)\b(DAN|developer mode|jailbreak|unfiltered mode|no restrictions)\b`)},
	{"credential_request", regexp.MustCompile(`(?i)\b(admin|root|api)\s*(password|key|token|credentials?)\b`)},
	{"delimiter_injection", regexp.MustCompile(`(?i)(</?\s*(system|user_input|assistant)\s*>|\[/?INST\]|###\s*(system|instruction))`)},
}

// Sentry flags inputs matching known injection patterns.
type Sentry struct {
	name     string
	patterns []Pattern
}

// NewSentry returns a sentry named name (SentryName when empty) matching
// patterns (DefaultPatterns when nil).
func NewSentry(name string, patterns []Pattern) *Sentry {
	if name == "" {
		name = SentryName
	}
	if patterns == nil {
		patterns = DefaultPatterns
	}
	return &Sentry{name: name, patterns: patterns}
}

// Name returns the backend name.
func (s *Sentry) Name() string { return s.name }

// Invoke classifies req.Input and returns a sentry.Verdict payload whose
// risk score is also the outcome confidence.
func (s *Sentry) Invoke(ctx context.Context, req backend.Request) (*backend.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, backend.Invocation(s.name, backend.Classify(err), "inspection canceled", err)
	}
	v := s.Inspect(req.Input)
	return &backend.Outcome{Backend: s.name, Confidence: v.RiskScore, Payload: v}, nil
}

// Inspect matches input against the configured patterns.
func (s *Sentry) Inspect(input string) sentry.Verdict {
	var matched []string
	for _, p := range s.patterns {
		if p.Expr.MatchString(input) {
			matched = append(matched, p.Name)
		}
	}
	if len(matched) == 0 {
		return sentry.Verdict{RiskScore: baselineRisk, Explanation: "no known injection pattern"}
	}
	risk := min(1, patternRisk+extraRisk*float64(len(matched)-1))
	return sentry.Verdict{
		IsSuspicious: true,
		RiskScore:    risk,
		Explanation:  "matched " + strings.Join(matched, ", "),
		Patterns:     matched,
	}
}
