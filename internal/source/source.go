// Package source defines the protocol-agnostic contract between the sync
// runner and a mailbox client.
package source

import (
	"errors"
	"fmt"
)

// AuthError indicates that authentication has failed for a mailbox.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ProtocolError wraps a failure reported by the server or the wire
// protocol during Op.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err (or any error in its chain) is a ProtocolError.
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}

// ErrNotFound is returned when a UID no longer exists on the server.
var ErrNotFound = errors.New("message not found")

// ErrNotConnected is returned when an operation needs a session and none is open.
var ErrNotConnected = errors.New("not connected")

// IdleResult tells why an idle wait returned. Callers treat both values
// the same way: run one sync pass.
type IdleResult int

const (
	IdleTimeout IdleResult = iota
	IdleActivity
)

func (r IdleResult) String() string {
	if r == IdleActivity {
		return "activity"
	}
	return "timeout"
}
