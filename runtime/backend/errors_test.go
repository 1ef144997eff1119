package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutNetError struct{ timeout bool }

func (e timeoutNetError) Error() string   { return "net" }
func (e timeoutNetError) Timeout() bool   { return e.timeout }
func (e timeoutNetError) Temporary() bool { return false }

var _ net.Error = timeoutNetError{}

// TestErrorSentinels verifies each kind matches exactly its sentinel through
// wrapping.
func TestErrorSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{Configuration("no backends"), ErrConfiguration},
		{Invocation("a", CauseNetwork, "", errors.New("dial")), ErrInvocation},
		{Admission("all quarantined"), ErrAdmission},
		{NotFound("x"), ErrNotFound},
	}
	all := []error{ErrConfiguration, ErrInvocation, ErrAdmission, ErrNotFound}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		for _, s := range all {
			require.Equal(t, s == tc.sentinel, errors.Is(wrapped, s), "%v vs %v", tc.err, s)
		}
	}
}

// TestNormalizeClassifiesCauses verifies untyped errors get a cause from the
// chain and typed errors keep theirs.
func TestNormalizeClassifiesCauses(t *testing.T) {
	require.Nil(t, Normalize("a", nil))

	e := Normalize("a", fmt.Errorf("call: %w", context.DeadlineExceeded))
	require.Equal(t, KindInvocation, e.Kind())
	require.Equal(t, CauseTimeout, e.Cause())
	require.Equal(t, "a", e.Backend())
	require.ErrorIs(t, e, context.DeadlineExceeded)

	e = Normalize("b", &net.OpError{Op: "dial", Err: errors.New("refused")})
	require.Equal(t, CauseNetwork, e.Cause())

	e = Normalize("b", timeoutNetError{timeout: true})
	require.Equal(t, CauseTimeout, e.Cause())

	e = Normalize("c", errors.New("boom"))
	require.Equal(t, CauseUnknown, e.Cause())

	typed := Invocation("", CauseRateLimited, "slow down", nil)
	e = Normalize("d", typed)
	require.Equal(t, CauseRateLimited, e.Cause())
	require.Equal(t, "d", e.Backend())
	require.Empty(t, typed.Backend(), "original must not be mutated")
}

// TestErrorString verifies the rendered message carries kind, cause and
// backend.
func TestErrorString(t *testing.T) {
	err := Invocation("openai", CauseAuth, "invalid key", errors.New("401"))
	require.Equal(t, `invocation/auth "openai": invalid key: 401`, err.Error())
	require.Equal(t, "configuration: no parsers enabled", Configuration("no parsers enabled").Error())
	require.Equal(t, "invocation/unknown: invocation error", NewError(KindInvocation, "", "", "", nil).Error())
}

// TestIsRetryable verifies only transient invocation causes are retryable.
func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(Invocation("a", CauseRateLimited, "", nil)))
	require.True(t, IsRetryable(Invocation("a", CauseNetwork, "", nil)))
	require.False(t, IsRetryable(Invocation("a", CauseParse, "", nil)))
	require.False(t, IsRetryable(Admission("x")))
	require.False(t, IsRetryable(errors.New("plain")))
}

func TestRequestIDGenerated(t *testing.T) {
	r := NewRequest("hello", "caller", "session")
	require.NotEmpty(t, r.RequestID)
	require.Equal(t, "keep", Request{RequestID: "keep"}.WithRequestID().RequestID)
	require.NotEmpty(t, Request{}.WithRequestID().RequestID)
}

func TestClampConfidence(t *testing.T) {
	require.Equal(t, 0.0, ClampConfidence(-1))
	require.Equal(t, 1.0, ClampConfidence(2))
	require.Equal(t, 0.4, ClampConfidence(0.4))
	nan := 0.0
	require.Equal(t, 0.0, ClampConfidence(nan/nan))
}
