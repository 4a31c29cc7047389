package kapital

import (
	"errors"
	"fmt"
)

// Authentication-sequence failures. Each aborts the negotiation; the
// caller decides whether to retry the whole sequence.
var (
	// ErrRegistration means the device registration endpoint did not
	// acknowledge success.
	ErrRegistration = errors.New("device registration rejected")

	// ErrCardVerification means card verification returned no phone
	// number. The upstream collapses bad card, unknown card and service
	// errors into this one signal, so no finer distinction is possible.
	ErrCardVerification = errors.New("card verification failed")

	// ErrChallenge means the SMS challenge request was rejected.
	ErrChallenge = errors.New("sms challenge failed")

	// ErrTokenExchange means the one-time code could not be exchanged
	// for a session token.
	ErrTokenExchange = errors.New("code exchange failed")

	// ErrSessionExpired means two consecutive calls were rejected with
	// an invalid token, even after re-authentication.
	ErrSessionExpired = errors.New("session expired after re-authentication")
)

// ValidationError reports malformed input detected before any network
// call is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError wraps a network-level failure (timeout, connection
// reset, unparseable body). It is non-fatal per call: bulk fetch loops
// drop the affected window and continue.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure on %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a non-empty errorMessage in an otherwise well-formed
// response that is not an invalid-token signal.
type UpstreamError struct {
	Endpoint string
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error on %s: %s", e.Endpoint, e.Message)
}
