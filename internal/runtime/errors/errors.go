// Package errors defines the error taxonomy shared by the flowbus engine.
package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrRegistryRequired  = sterrors.New("flowbus: event registry is required")
	ErrTransportRequired = sterrors.New("flowbus: transport is required")
	ErrHandlerRequired   = sterrors.New("flowbus: handler function is required")
	ErrEventNameRequired = sterrors.New("flowbus: event name is required")
	ErrPayloadRequired   = sterrors.New("flowbus: event payload is required")
	ErrChannelRequired   = sterrors.New("flowbus: channel is required")
)

// Issue describes a single schema validation failure.
type Issue struct {
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// UnknownEventError reports a publish or registration against an event name
// that is not present in the registry. It is returned before any network call.
type UnknownEventError struct {
	Event string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("flowbus: unknown event %q", e.Event)
}

// ValidationError carries every issue reported by a schema adapter, not just
// the first. It is never retried automatically.
type ValidationError struct {
	Event  string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("flowbus: validation failed for event %q (%d issue(s))", e.Event, len(e.Issues))
	if len(e.Issues) > 0 {
		msg += ": " + e.Issues[0].String()
	}
	return msg
}

// ConnectionError wraps the underlying cause of a failed transport connection.
type ConnectionError struct {
	Transport string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("flowbus: transport %q failed to connect: %v", e.Transport, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error may be transient. Validation and
// unknown-event failures are deterministic and must never be retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var validation *ValidationError
	if sterrors.As(err, &validation) {
		return false
	}
	var unknown *UnknownEventError
	return !sterrors.As(err, &unknown)
}
