// Package deterministic provides offline, rule-based backends: an intent
// parser driven by keyword rules and a sentry driven by known injection
// phrasings. They need no network access and always answer, which makes them
// a stable ensemble member and a reference for canary diagnostics.
package deterministic

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/intent"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

// ParserName is the default name of the rule-based parser.
const ParserName = "deterministic"

const (
	matchedConfidence   = 0.8
	unmatchedConfidence = 0.3
)

type actionRule struct {
	action   intent.Action
	keywords []string
}

// Rules are evaluated in order; the first with a matching keyword wins.
var actionRules = []actionRule{
	{intent.ActionFindExperts, []string{"expert", "who knows", "specialist", "consultant"}},
	{intent.ActionDraftProposal, []string{"draft", "proposal", "write a plan", "prepare a pitch"}},
	{intent.ActionSummarize, []string{"summarize", "summarise", "summary", "tl;dr", "recap"}},
	{intent.ActionAnalyzeDocument, []string{"analyze", "analyse", "review the document", "evaluate", "assess"}},
	{intent.ActionSearchKnowledge, []string{"search", "look up", "find information", "what is", "how do", "where can"}},
}

var (
	topicPattern     = regexp.MustCompile(`(?i)\b(?:about|on|regarding|for)\s+([a-z0-9][a-z0-9 \-]{1,60}?)(?:[.,;!?]|\s+(?:with|by|under|within|and)\b|$)`)
	expertisePattern = regexp.MustCompile(`(?i)\b(?:experts?|specialists?|expertise|experience)\s+(?:in|on|with)\s+([a-z0-9][a-z0-9 ,\-/&]+?)(?:[.;!?]|\s+(?:for|to|with|under|within)\b|$)`)
	budgetPattern    = regexp.MustCompile(`(?i)(?:budget\s+(?:of\s+)?)?\$\s?([0-9][0-9,]*(?:\.[0-9]+)?)\s*(k)?\b`)
	countPattern     = regexp.MustCompile(`(?i)\b([0-9]{1,3})\s+(?:experts?|specialists?|people|consultants?|results?)\b`)
)

// Parser is a rule-based intent parser.
type Parser struct {
	name string
}

// NewParser returns a parser named name, or ParserName when name is empty.
func NewParser(name string) *Parser {
	if name == "" {
		name = ParserName
	}
	return &Parser{name: name}
}

// Name returns the backend name.
func (p *Parser) Name() string { return p.name }

// Invoke parses req.Input into an intent.Intent.
func (p *Parser) Invoke(ctx context.Context, req backend.Request) (*backend.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, backend.Invocation(p.name, backend.Classify(err), "parse canceled", err)
	}
	in := Parse(req.Input)
	return &backend.Outcome{Backend: p.name, Confidence: in.Confidence, Payload: in}, nil
}

// Parse applies the keyword rules to input.
func Parse(input string) intent.Intent {
	text := strings.ToLower(strings.TrimSpace(input))
	in := intent.Intent{Action: intent.ActionUnknown, Confidence: unmatchedConfidence}
	if text == "" {
		return in
	}
	for _, r := range actionRules {
		if containsAny(text, r.keywords) {
			in.Action = r.action
			in.Confidence = matchedConfidence
			break
		}
	}
	if m := expertisePattern.FindStringSubmatch(text); m != nil {
		in.Expertise = splitList(m[1])
	}
	if m := topicPattern.FindStringSubmatch(text); m != nil {
		in.Topic = strings.TrimSpace(m[1])
	}
	constraints := map[string]any{}
	if m := budgetPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
			if m[2] != "" {
				v *= 1000
			}
			constraints["budget"] = v
		}
	}
	if m := countPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			constraints["max_results"] = n
		}
	}
	if len(constraints) > 0 {
		in.Constraints = constraints
	}
	return in
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '/' || r == '&' })
	var out []string
	for _, f := range fields {
		for _, part := range strings.Split(f, " and ") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
