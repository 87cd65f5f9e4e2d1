package wamp

import (
	"strings"
	"unicode"
)

// Predefined error and close URIs.
const (
	ErrURINoSuchProcedure        URI = "wamp.error.no_such_procedure"
	ErrURIProcedureAlreadyExists URI = "wamp.error.procedure_already_exists"
	ErrURINoSuchRegistration     URI = "wamp.error.no_such_registration"
	ErrURINoSuchSubscription     URI = "wamp.error.no_such_subscription"
	ErrURIInvalidURI             URI = "wamp.error.invalid_uri"
	ErrURIInvalidArgument        URI = "wamp.error.invalid_argument"
	ErrURINotAuthorized          URI = "wamp.error.not_authorized"
	ErrURICanceled               URI = "wamp.error.canceled"
	ErrURITimeout                URI = "wamp.error.timeout"
	ErrURIProtocolViolation      URI = "wamp.error.protocol_violation"
	ErrURIDuplicateRequestID     URI = "wamp.error.duplicate_request_id"
	ErrURIRoleNotSupported       URI = "wamp.error.role_not_supported"
	ErrURINetworkFailure         URI = "wamp.error.network_failure"
	ErrURIRuntimeError           URI = "wamp.error.runtime_error"
	ErrURINoSuchRealm            URI = "wamp.error.no_such_realm"

	CloseGoodbyeAndOut  URI = "wamp.close.goodbye_and_out"
	CloseNormal         URI = "wamp.close.normal"
	CloseSystemShutdown URI = "wamp.close.system_shutdown"
)

// Match policies for registrations and subscriptions.
const (
	MatchExact  = "exact"
	MatchPrefix = "prefix"
)

// ValidURI reports whether uri is acceptable under the given match policy.
// Components must be non-empty and free of whitespace and '#'. A prefix
// pattern may end with a trailing '.'.
func ValidURI(uri URI, match string) bool {
	s := string(uri)
	if s == "" {
		return false
	}
	if match == MatchPrefix {
		s = strings.TrimSuffix(s, ".")
		if s == "" {
			return false
		}
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r == '#' || unicode.IsSpace(r) {
				return false
			}
		}
	}
	return true
}
