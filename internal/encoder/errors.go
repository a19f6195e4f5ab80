package encoder

import (
	"errors"
	"net"
)

// dependencyUnavailableError signals the model runtime cannot be reached so the
// HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates an unreachable runtime.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// upstreamError reports a runtime that answered with a failure or a malformed payload.
type upstreamError struct {
	msg    string
	status int
}

func (e upstreamError) Error() string { return e.msg }

// ErrUpstream constructs an upstreamError. status is the runtime's HTTP status, or 0.
func ErrUpstream(msg string, status int) error { return upstreamError{msg: msg, status: status} }

// IsUpstream reports whether err came from a failing runtime.
func IsUpstream(err error) bool {
	var e upstreamError
	return errors.As(err, &e)
}

// UpstreamStatus returns the runtime HTTP status carried by err, or 0.
func UpstreamStatus(err error) int {
	var e upstreamError
	if errors.As(err, &e) {
		return e.status
	}
	return 0
}

// badInputError is returned when the runtime rejects the request content itself.
type badInputError struct{ msg string }

func (e badInputError) Error() string { return e.msg }

// ErrBadInput constructs a badInputError.
func ErrBadInput(msg string) error { return badInputError{msg: msg} }

// IsBadInput reports whether err indicates invalid input.
func IsBadInput(err error) bool {
	var e badInputError
	return errors.As(err, &e)
}

// isDialError reports whether err is a failure to open a connection.
func isDialError(err error) bool {
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}

// classifyStatus maps a non-2xx runtime status to an error kind.
func classifyStatus(status int, msg string) error {
	switch {
	case status == 400 || status == 422:
		return ErrBadInput(msg)
	case status == 503:
		return ErrDependencyUnavailable(msg)
	default:
		return ErrUpstream(msg, status)
	}
}
