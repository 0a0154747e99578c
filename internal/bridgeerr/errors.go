// Package bridgeerr defines the bridge's error taxonomy (spec.md §7):
// a small closed set of kinds every component classifies its failures
// into, rather than a kind-per-type-name registry.
package bridgeerr

import "fmt"

// Kind is one of the taxonomy's closed set of error categories.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindStoreUnavail   Kind = "store_unavailable"
	KindIntegrity      Kind = "integrity"
	KindTransport      Kind = "transport"
	KindTypeCoercion   Kind = "type_coercion"
	KindBufferFull     Kind = "buffer_full"
	KindCancelled      Kind = "cancelled"
)

// Error is a classified error carrying the kind used to decide retry
// behavior and logging severity.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Exhausted marks a StoreUnavailable error whose retry budget (the
	// 30s escalation window of spec.md §7) has run out. It turns a
	// normally-retryable condition into a Fatal one.
	Exhausted bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the dispatcher should requeue the message that
// produced this error rather than archiving it immediately.
func (e *Error) Retryable() bool {
	if e.Exhausted {
		return false
	}
	return e.Kind == KindTransport || e.Kind == KindStoreUnavail
}

// Fatal reports whether the error should abort process startup or the
// current operation entirely rather than being handled per-message.
// A StoreUnavailable error only becomes Fatal once its retry budget is
// Exhausted (spec.md §7: "retries with exponential backoff up to 30s,
// then exits with code 2").
func (e *Error) Fatal() bool {
	return e.Kind == KindConfiguration || (e.Kind == KindStoreUnavail && e.Exhausted)
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Configuration(message string, cause error) *Error { return New(KindConfiguration, message, cause) }
func StoreUnavailable(message string, cause error) *Error { return New(KindStoreUnavail, message, cause) }
func Integrity(message string, cause error) *Error        { return New(KindIntegrity, message, cause) }
func Transport(message string, cause error) *Error        { return New(KindTransport, message, cause) }
func TypeCoercion(message string, cause error) *Error      { return New(KindTypeCoercion, message, cause) }
func BufferFull(message string) *Error                    { return New(KindBufferFull, message, nil) }
func Cancelled(message string) *Error                      { return New(KindCancelled, message, nil) }

// StoreUnavailableExhausted reports a StoreUnavailable condition that has
// persisted past its 30s retry escalation window and must now be treated
// as Fatal (spec.md §7).
func StoreUnavailableExhausted(message string, cause error) *Error {
	return &Error{Kind: KindStoreUnavail, Message: message, Cause: cause, Exhausted: true}
}

// As reports whether err is (or wraps) a *Error and returns it.
func As(err error) (*Error, bool) {
	var be *Error
	if ok := asError(err, &be); ok {
		return be, true
	}
	return nil, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if be, ok := err.(*Error); ok {
			*target = be
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
