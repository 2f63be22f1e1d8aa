package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for session state
var (
	// ErrNotConnected indicates a fetch was attempted without an active session
	ErrNotConnected = errors.New("not connected to LMS")
)

// TransportError is a network-level failure (unreachable host, timeout).
// Callers may retry; the facade applies its bounded retry policy to these only.
type TransportError struct {
	Op  string // "authenticate" or the web-service function name
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is an authentication rejection: bad credentials or an expired
// token. Terminal for the whole connection; recovery requires reconnecting.
type AuthError struct {
	Code    string // Moodle errorcode, e.g. "invalidlogin", "invalidtoken"
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("auth: %s", e.Code)
}

// ServiceError is a remote-side rejection of a single call (permission
// denied, bad parameters). Terminal for that call only; other calls on the
// same connection remain valid.
type ServiceError struct {
	Function string // web-service function that failed
	Code     string // Moodle errorcode
	Message  string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service: %s: %s: %s", e.Function, e.Code, e.Message)
}

// NormalizationError describes a single malformed record. It is logged and
// the record skipped; it never fails a whole page.
type NormalizationError struct {
	Kind   Kind
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Kind, e.Reason)
}

// IntegrityError reports inconsistent data from the server, such as a cycle
// in the category parent chain. Not silently recovered.
type IntegrityError struct {
	Kind   Kind
	ID     int64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s %d: %s", e.Kind, e.ID, e.Reason)
}

// ExpansionError wraps whatever failed while expanding one tree node. The
// node settles into its error state; siblings are unaffected.
type ExpansionError struct {
	NodeLabel string
	Err       error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expand %q: %v", e.NodeLabel, e.Err)
}

func (e *ExpansionError) Unwrap() error { return e.Err }

// PartialError flags a paginated listing that failed mid-way but still
// produced usable pages. The accompanying result holds everything fetched
// before the failure.
type PartialError struct {
	Got int // records retrieved before the failure
	Err error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial result (%d records): %v", e.Got, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport-class failure the facade
// may retry. Auth and service errors are never retryable.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAuthError reports whether err carries an authentication rejection
// anywhere in its chain.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
