package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failure by the layer that produced it.
type Kind string

const (
	// KindConfiguration indicates the component was assembled incorrectly
	// (for example an empty backend set or duplicate names).
	KindConfiguration Kind = "configuration"

	// KindInvocation indicates a single backend call failed. Cause refines it.
	KindInvocation Kind = "invocation"

	// KindAdmission indicates the vault refused to admit the input (no usable
	// sentry or no verdict to decide on).
	KindAdmission Kind = "admission"

	// KindNotFound indicates an operator referenced an unknown backend.
	KindNotFound Kind = "not_found"
)

// Cause refines invocation failures.
type Cause string

const (
	// CauseNetwork indicates a transport-level failure.
	CauseNetwork Cause = "network"
	// CauseTimeout indicates the per-backend deadline expired.
	CauseTimeout Cause = "timeout"
	// CauseParse indicates the backend reply could not be decoded or did not
	// validate.
	CauseParse Cause = "parse"
	// CauseRateLimited indicates the provider throttled the call.
	CauseRateLimited Cause = "rate_limited"
	// CauseAuth indicates an authentication or authorization failure.
	CauseAuth Cause = "auth"
	// CauseFault indicates the backend panicked.
	CauseFault Cause = "fault"
	// CauseProtocol indicates the backend broke the Invoke contract.
	CauseProtocol Cause = "protocol"
	// CauseUnknown indicates an unclassified failure.
	CauseUnknown Cause = "unknown"
)

var (
	// ErrConfiguration matches errors of kind KindConfiguration via errors.Is.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvocation matches errors of kind KindInvocation via errors.Is.
	ErrInvocation = errors.New("invocation error")
	// ErrAdmission matches errors of kind KindAdmission via errors.Is.
	ErrAdmission = errors.New("admission error")
	// ErrNotFound matches errors of kind KindNotFound via errors.Is.
	ErrNotFound = errors.New("not found")
)

// Error describes a failure surfaced by a backend, the ensemble or the vault.
type Error struct {
	kind    Kind
	cause   Cause
	backend string
	message string
	err     error
}

// NewError constructs an Error. kind is required; cause is only meaningful
// for KindInvocation and defaults to CauseUnknown there.
func NewError(kind Kind, cause Cause, backendName, message string, err error) *Error {
	if kind == "" {
		panic("backend: error kind is required")
	}
	if kind == KindInvocation && cause == "" {
		cause = CauseUnknown
	}
	return &Error{
		kind:    kind,
		cause:   cause,
		backend: backendName,
		message: message,
		err:     err,
	}
}

// Configuration returns a KindConfiguration error.
func Configuration(format string, args ...any) *Error {
	return NewError(KindConfiguration, "", "", fmt.Sprintf(format, args...), nil)
}

// Invocation returns a KindInvocation error for backendName.
func Invocation(backendName string, cause Cause, message string, err error) *Error {
	return NewError(KindInvocation, cause, backendName, message, err)
}

// Admission returns a KindAdmission error.
func Admission(format string, args ...any) *Error {
	return NewError(KindAdmission, "", "", fmt.Sprintf(format, args...), nil)
}

// NotFound returns a KindNotFound error for backendName.
func NotFound(backendName string) *Error {
	return NewError(KindNotFound, "", backendName, "unknown backend", nil)
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind { return e.kind }

// Cause returns the invocation cause, empty for other kinds.
func (e *Error) Cause() Cause { return e.cause }

// Backend returns the backend name the error is attributed to, if any.
func (e *Error) Backend() string { return e.backend }

// Message returns the human-readable message.
func (e *Error) Message() string { return e.message }

func (e *Error) Error() string {
	msg := e.message
	if msg == "" && e.err != nil {
		msg = e.err.Error()
	} else if e.err != nil {
		msg = msg + ": " + e.err.Error()
	}
	if msg == "" {
		msg = string(e.kind) + " error"
	}
	prefix := string(e.kind)
	if e.cause != "" {
		prefix += "/" + string(e.cause)
	}
	if e.backend != "" {
		return fmt.Sprintf("%s %q: %s", prefix, e.backend, msg)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error { return e.err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.kind == KindConfiguration
	case ErrInvocation:
		return e.kind == KindInvocation
	case ErrAdmission:
		return e.kind == KindAdmission
	case ErrNotFound:
		return e.kind == KindNotFound
	}
	return false
}

// AsError returns the first *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Normalize converts err into an *Error attributed to backendName. Typed
// errors are returned unchanged apart from filling in a missing backend name.
// Other errors become KindInvocation with a cause classified from the chain.
func Normalize(backendName string, err error) *Error {
	if err == nil {
		return nil
	}
	if be, ok := AsError(err); ok {
		if be.backend == "" && backendName != "" {
			cp := *be
			cp.backend = backendName
			return &cp
		}
		return be
	}
	return Invocation(backendName, Classify(err), "", err)
}

// Classify maps an untyped error to a Cause.
func Classify(err error) Cause {
	if err == nil {
		return ""
	}
	if be, ok := AsError(err); ok && be.cause != "" {
		return be.cause
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CauseTimeout
		}
		return CauseNetwork
	}
	return CauseUnknown
}

// IsRetryable reports whether retrying the call may succeed without changing
// the request.
func IsRetryable(err error) bool {
	be, ok := AsError(err)
	if !ok || be.kind != KindInvocation {
		return false
	}
	switch be.cause {
	case CauseNetwork, CauseTimeout, CauseRateLimited:
		return true
	}
	return false
}
