package mqi

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed means the server rejected the connection
	// password during the handshake.
	ErrAuthenticationFailed = errors.New("mqi: authentication failed")

	// ErrConnectionFailed means the server reported losing the connection.
	// The shared connection flag is set when this surfaces.
	ErrConnectionFailed = errors.New("mqi: connection to server failed")

	// ErrTimeout means the server enforced the query's time limit.
	ErrTimeout = errors.New("mqi: query time limit exceeded")

	// ErrNoQuery means an async operation was attempted with no async
	// query active on the session.
	ErrNoQuery = errors.New("mqi: no query active")

	// ErrQueryCancelled means the active async query was cancelled.
	ErrQueryCancelled = errors.New("mqi: query cancelled")

	// ErrResultNotAvailable means the next async result was not ready
	// within the requested wait time. Non-fatal; poll again.
	ErrResultNotAvailable = errors.New("mqi: async result not yet available")

	// ErrSessionClosed means the session has been closed.
	ErrSessionClosed = errors.New("mqi: session closed")

	// ErrUnsupportedFeature means the requested capability is not
	// available on this platform or configuration.
	ErrUnsupportedFeature = errors.New("mqi: feature not supported")
)

// errNoMoreResults marks clean exhaustion of an async result sequence.
// Never surfaced to callers: AsyncResult converts it to a nil result.
var errNoMoreResults = errors.New("mqi: no more results")

// ExceptionError is a Prolog exception the client has no specific mapping
// for. The full structured exception term is preserved.
type ExceptionError struct {
	Kind string
	Term Term
}

func (e *ExceptionError) Error() string {
	if e.Term != nil {
		return fmt.Sprintf("mqi: prolog exception %s (%s)", e.Kind, TermString(e.Term))
	}
	return "mqi: prolog exception " + e.Kind
}

// VersionMismatchError means the server speaks an incompatible protocol
// major version.
type VersionMismatchError struct {
	Client string
	Server string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("mqi: protocol version mismatch: client requires %s, server provides %s", e.Client, e.Server)
}

// ProtocolError means the server sent a frame that violates the protocol:
// unparsable JSON, an unknown response functor, or a malformed structure.
// The session should be considered unusable after one.
type ProtocolError struct {
	Message string
	Err     error // underlying error, if any
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "mqi: protocol error: " + e.Message + ": " + e.Err.Error()
	}
	return "mqi: protocol error: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// LaunchError means the swipl process could not be started or did not
// produce its startup connection values.
type LaunchError struct {
	Message string
	Err     error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return "mqi: launch failed: " + e.Message + ": " + e.Err.Error()
	}
	return "mqi: launch failed: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection.
func (e *LaunchError) Unwrap() error {
	return e.Err
}
