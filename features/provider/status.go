// Package provider holds helpers shared by the LLM provider adapters.
package provider

import (
	"net/http"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
)

// CauseForStatus maps a provider HTTP status to an invocation cause.
func CauseForStatus(status int) backend.Cause {
	switch {
	case status == http.StatusTooManyRequests:
		return backend.CauseRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return backend.CauseAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return backend.CauseTimeout
	case status >= http.StatusInternalServerError:
		return backend.CauseNetwork
	case status >= http.StatusBadRequest:
		return backend.CauseProtocol
	}
	return backend.CauseUnknown
}
