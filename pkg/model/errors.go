package model

import "errors"

// Kind classifies an error into a fixed taxonomy. It is attached to
// errors raised at component boundaries so callers (the REST layer, the
// convergence loop) can decide whether to surface, retry, or abort.
type Kind string

const (
	// KindSchemaMismatch: input failed JSON-Schema-equivalent validation
	// or an RPC argument check. Never retried.
	KindSchemaMismatch Kind = "schema_mismatch"

	// KindConflict: a mutation would violate an invariant (duplicate
	// name, primary collision).
	KindConflict Kind = "conflict"

	// KindBackendTransient: a volume API timeout or connectivity blip.
	// Absorbed by the convergence loop and retried next tick.
	KindBackendTransient Kind = "backend_transient"

	// KindBackendFatal: the volume API reported "unknown resource" when
	// one was expected, or vice versa. Surfaced as "attention required",
	// not silently retried.
	KindBackendFatal Kind = "backend_fatal"

	// KindPeerUnavailable: the agent can't reach control, or control
	// can't send to an agent.
	KindPeerUnavailable Kind = "peer_unavailable"

	// KindProgrammer: a local invariant was broken. Fatal; the process
	// should exit so a supervisor restarts it cleanly.
	KindProgrammer Kind = "programmer"
)

// Error wraps an underlying cause with a Kind, so callers can type-switch
// on classification without string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, or "" if not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
