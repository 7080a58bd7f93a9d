package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the stable machine-readable error kind reported to clients.
type Kind string

const (
	KindModelNotFound     Kind = "model_not_found"
	KindEngineUnavailable Kind = "engine_unavailable"
	KindInitialization    Kind = "initialization_error"
	KindEngine            Kind = "engine_error"
	KindTransport         Kind = "transport_error"
	KindTimeout           Kind = "timeout"
	KindInvalidRequest    Kind = "invalid_request"
	KindTooBusy           Kind = "too_busy"
	KindInternal          Kind = "internal_error"
)

// Class groups kinds by how a caller should react.
type Class string

const (
	ClassNotFound        Class = "not_found"
	ClassUnavailable     Class = "unavailable"
	ClassBadRequest      Class = "bad_request"
	ClassTooManyRequests Class = "too_many_requests"
	ClassInternal        Class = "internal"
)

// Error is the gateway error type. Routing errors (ModelNotFound,
// EngineUnavailable) are caller-correctable; initialization errors are
// retried on the next request; engine and transport errors are never retried.
type Error struct {
	Kind    Kind
	Message string
	// Known lists the registered model ids for ModelNotFound.
	Known []string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Class returns the status class of the error kind.
func (e *Error) Class() Class {
	switch e.Kind {
	case KindModelNotFound:
		return ClassNotFound
	case KindEngineUnavailable, KindInitialization, KindTimeout:
		return ClassUnavailable
	case KindInvalidRequest:
		return ClassBadRequest
	case KindTooBusy:
		return ClassTooManyRequests
	default:
		return ClassInternal
	}
}

// StatusCode maps the error kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindModelNotFound:
		return http.StatusNotFound
	case KindEngineUnavailable, KindInitialization:
		return http.StatusServiceUnavailable
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindTooBusy:
		return http.StatusTooManyRequests
	case KindEngine:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransport:
		// nginx's "client closed request"; rarely seen by the client itself.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// ErrModelNotFound reports an unknown model id together with the known ids.
func ErrModelNotFound(id string, known []string) error {
	k := append([]string(nil), known...)
	return &Error{
		Kind:    KindModelNotFound,
		Message: fmt.Sprintf("model not found: %q (known models: %s)", id, strings.Join(k, ", ")),
		Known:   k,
	}
}

func errEngineUnavailable(id string, cause error) error {
	return &Error{Kind: KindEngineUnavailable, Message: "engine unavailable for model " + id, Cause: cause}
}

func errInitialization(id string, cause error) error {
	return &Error{Kind: KindInitialization, Message: "initialization failed for model " + id, Cause: cause}
}

func errEngine(id string, cause error) error {
	return &Error{Kind: KindEngine, Message: "engine error for model " + id, Cause: cause}
}

func errTransport(cause error) error {
	return &Error{Kind: KindTransport, Message: "transport error", Cause: cause}
}

// errContext classifies the end of a request context: an expired deadline is
// the server's request timeout, anything else is the client going away.
func errContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	return errTransport(err)
}

func errInvalidRequest(format string, args ...any) error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func errTooBusy(msg string) error {
	return &Error{Kind: KindTooBusy, Message: msg}
}

// KindOf returns the kind of err, or KindInternal when err is not a gateway
// error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

func isKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// IsModelNotFound reports whether err indicates an unknown model id.
func IsModelNotFound(err error) bool { return isKind(err, KindModelNotFound) }

// IsEngineUnavailable reports whether err indicates a model whose engine could not be constructed.
func IsEngineUnavailable(err error) bool { return isKind(err, KindEngineUnavailable) }

// IsInitialization reports whether err is a failed (retryable) initialization.
func IsInitialization(err error) bool { return isKind(err, KindInitialization) }

// IsEngineError reports whether err originated in the engine during generation.
func IsEngineError(err error) bool { return isKind(err, KindEngine) }

// IsTransport reports whether err is a cancelled or broken client connection.
func IsTransport(err error) bool { return isKind(err, KindTransport) }

// IsTimeout reports whether the request exceeded its deadline.
func IsTimeout(err error) bool { return isKind(err, KindTimeout) }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool { return isKind(err, KindTooBusy) }

// IsInvalidRequest reports whether err indicates a malformed request.
func IsInvalidRequest(err error) bool { return isKind(err, KindInvalidRequest) }

// IsRouting reports whether err is a routing error: the caller may retry
// against another model.
func IsRouting(err error) bool { return IsModelNotFound(err) || IsEngineUnavailable(err) }
