package wamp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/wampd/internal/future"
)

var (
	ErrProtocolViolation      = errors.New("wamp: protocol violation")
	ErrSerialization          = errors.New("wamp: serialization failed")
	ErrNoSuchProcedure        = errors.New("wamp: no such procedure")
	ErrNoSuchSubscription     = errors.New("wamp: no such subscription")
	ErrNoSuchRegistration     = errors.New("wamp: no such registration")
	ErrProcedureAlreadyExists = errors.New("wamp: procedure already exists")
	ErrDuplicateRequestID     = errors.New("wamp: duplicate request id")
	ErrRoleNotSupported       = errors.New("wamp: role not supported")
	ErrNotAuthorized          = errors.New("wamp: not authorized")
	ErrInvalidURI             = errors.New("wamp: invalid uri")
	ErrInvalidArgument        = errors.New("wamp: invalid argument")
	ErrTimeout                = errors.New("wamp: timeout")
	ErrChannelClosed          = errors.New("wamp: channel closed")

	// ErrCanceled is shared with future so a canceled future and a received
	// wamp.error.canceled compare equal under errors.Is.
	ErrCanceled = future.ErrCanceled
)

// sentinelURIs is ordered so ErrorURI resolves the most specific sentinel first.
var sentinelURIs = []struct {
	err error
	uri URI
}{
	{ErrNoSuchProcedure, ErrURINoSuchProcedure},
	{ErrNoSuchSubscription, ErrURINoSuchSubscription},
	{ErrNoSuchRegistration, ErrURINoSuchRegistration},
	{ErrProcedureAlreadyExists, ErrURIProcedureAlreadyExists},
	{ErrDuplicateRequestID, ErrURIDuplicateRequestID},
	{ErrRoleNotSupported, ErrURIRoleNotSupported},
	{ErrNotAuthorized, ErrURINotAuthorized},
	{ErrInvalidURI, ErrURIInvalidURI},
	{ErrInvalidArgument, ErrURIInvalidArgument},
	{ErrTimeout, ErrURITimeout},
	{ErrCanceled, ErrURICanceled},
	{ErrProtocolViolation, ErrURIProtocolViolation},
	{ErrChannelClosed, ErrURINetworkFailure},
}

// ProtocolError reports a malformed or unexpected message. Position is the
// index of the offending field in the raw list; zero means the message as a whole.
type ProtocolError struct {
	MessageType MessageType
	Position    int
	Reason      string
}

func (e *ProtocolError) Error() string {
	if e.Position == 0 {
		return fmt.Sprintf("wamp: protocol violation: message_type=%s: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("wamp: protocol violation: message_type=%s pos=%d: %s", e.MessageType, e.Position, e.Reason)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// SerializationError wraps a codec failure.
type SerializationError struct {
	Codec string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("wamp: serialization failed: codec=%s: %v", e.Codec, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}

// ApplicationError is a WAMP ERROR surfaced to the local application, or
// returned by a handler to control the ERROR sent to the caller.
type ApplicationError struct {
	URI     URI
	Args    List
	KwArgs  Dict
	Details Dict
}

// NewApplicationError builds an ApplicationError with positional args.
func NewApplicationError(uri URI, args ...interface{}) *ApplicationError {
	return &ApplicationError{URI: uri, Args: List(args)}
}

func (e *ApplicationError) Error() string {
	if len(e.Args) == 0 {
		return fmt.Sprintf("wamp: application error: %s", e.URI)
	}
	parts := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	return fmt.Sprintf("wamp: application error: %s: %s", e.URI, strings.Join(parts, " "))
}

// Is lets errors.Is match an ApplicationError against the sentinel that
// carries the same URI.
func (e *ApplicationError) Is(target error) bool {
	for _, s := range sentinelURIs {
		if s.err == target {
			return s.uri == e.URI
		}
	}
	return false
}

// ErrorURI maps err onto the URI carried by an ERROR message.
func ErrorURI(err error) URI {
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr.URI
	}
	for _, s := range sentinelURIs {
		if errors.Is(err, s.err) {
			return s.uri
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrURITimeout
	case errors.Is(err, context.Canceled):
		return ErrURICanceled
	}
	return ErrURIRuntimeError
}

// ErrorPayload returns the args and kwargs an ERROR message should carry for err.
func ErrorPayload(err error) (List, Dict) {
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Args, appErr.KwArgs
	}
	return List{err.Error()}, nil
}

// NewErrorMessage builds the ERROR answering request of requestType.
func NewErrorMessage(requestType MessageType, request ID, err error) *Error {
	args, kwargs := ErrorPayload(err)
	return &Error{
		RequestType: requestType,
		Request:     request,
		Details:     Dict{},
		Error:       ErrorURI(err),
		Args:        args,
		KwArgs:      kwargs,
	}
}

// ErrorFromMessage converts a received ERROR into an ApplicationError.
func ErrorFromMessage(msg *Error) *ApplicationError {
	return &ApplicationError{
		URI:     msg.Error,
		Args:    msg.Args,
		KwArgs:  msg.KwArgs,
		Details: msg.Details,
	}
}
