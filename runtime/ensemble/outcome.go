package ensemble

import (
	"time"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

// DefaultPriority orders parser backends from most to least trusted when a
// single interpretation must be picked.
var DefaultPriority = []string{"deterministic", "ollama", "openai", "chatgpt", "deepseek", "claude"}

type (
	// Outcome aggregates one ensemble call. For a non-empty backend set
	// SuccessCount == len(Results) and SuccessCount+len(Errors) == BackendCount.
	Outcome struct {
		// Results holds successful outcomes in completion order.
		Results []*backend.Outcome `json:"results"`
		// Errors holds one entry per failed invocation in completion order.
		Errors []Failure `json:"errors"`
		// Elapsed is the wall time of the whole fan-out.
		Elapsed time.Duration `json:"elapsed"`
		// BackendCount is the number of backends invoked.
		BackendCount int `json:"backend_count"`
		// SuccessCount is the number of successful invocations.
		SuccessCount int `json:"success_count"`
		// Invoked lists the names of the invoked backends in ensemble order.
		Invoked []string `json:"invoked"`
	}

	// Failure attributes an error to a backend identity.
	Failure struct {
		// Backend is the backend name, Identity or UnknownIdentity.
		Backend string `json:"backend"`
		// Err is the typed failure.
		Err *backend.Error `json:"-"`
	}
)

// Lookup returns the outcome produced by the named backend.
func (o *Outcome) Lookup(name string) (*backend.Outcome, bool) {
	for _, r := range o.Results {
		if r.Backend == name {
			return r, true
		}
	}
	return nil, false
}

// HighestConfidence returns the most confident outcome. Ties resolve to the
// outcome that completed first.
func (o *Outcome) HighestConfidence() (*backend.Outcome, bool) {
	var best *backend.Outcome
	for _, r := range o.Results {
		if best == nil || r.Confidence > best.Confidence {
			best = r
		}
	}
	return best, best != nil
}

// ByPriority returns the outcome of the first backend in order that
// succeeded.
func (o *Outcome) ByPriority(order []string) (*backend.Outcome, bool) {
	for _, name := range order {
		if r, ok := o.Lookup(name); ok {
			return r, true
		}
	}
	return nil, false
}

// FailureFor returns the error attributed to the named backend.
func (o *Outcome) FailureFor(name string) (*backend.Error, bool) {
	for _, f := range o.Errors {
		if f.Backend == name {
			return f.Err, true
		}
	}
	return nil, false
}

// Succeeded reports whether the named backend produced an outcome.
func (o *Outcome) Succeeded(name string) bool {
	_, ok := o.Lookup(name)
	return ok
}

// Message returns the failure's error message.
func (f Failure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}
