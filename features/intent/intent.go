// Package intent defines the structured interpretation parsers produce from
// untrusted user input.
package intent

import "slices"

// Action is the operation the user asks for.
type Action string

const (
	// ActionFindExperts asks for people with given expertise.
	ActionFindExperts Action = "find_experts"
	// ActionSummarize asks for a summary of a document or topic.
	ActionSummarize Action = "summarize"
	// ActionDraftProposal asks for a drafted document.
	ActionDraftProposal Action = "draft_proposal"
	// ActionAnalyzeDocument asks for analysis of supplied material.
	ActionAnalyzeDocument Action = "analyze_document"
	// ActionSearchKnowledge asks for information lookup.
	ActionSearchKnowledge Action = "search_knowledge"
	// ActionUnknown means no supported action was recognised.
	ActionUnknown Action = "unknown"
)

// Actions lists the supported actions.
var Actions = []Action{
	ActionFindExperts,
	ActionSummarize,
	ActionDraftProposal,
	ActionAnalyzeDocument,
	ActionSearchKnowledge,
	ActionUnknown,
}

// Intent is one parser's interpretation of an input.
type Intent struct {
	// Action is the requested operation.
	Action Action `json:"action"`
	// Topic is the subject the action applies to, if any.
	Topic string `json:"topic,omitempty"`
	// Expertise lists expertise areas mentioned by the user.
	Expertise []string `json:"expertise,omitempty"`
	// Constraints holds free-form parameters such as budgets or counts.
	Constraints map[string]any `json:"constraints,omitempty"`
	// Confidence is the parser's confidence in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Valid reports whether the action is supported.
func (i Intent) Valid() bool {
	return slices.Contains(Actions, i.Action)
}

// Schema is the JSON Schema LLM parsers must satisfy.
const Schema = `{
  "type": "object",
  "required": ["action", "confidence"],
  "properties": {
    "action": {"enum": ["find_experts", "summarize", "draft_proposal", "analyze_document", "search_knowledge", "unknown"]},
    "topic": {"type": "string"},
    "expertise": {"type": "array", "items": {"type": "string"}},
    "constraints": {"type": "object"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`
