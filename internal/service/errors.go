package service

import (
	"context"
	"errors"
	"net/http"

	"clipd/internal/encoder"
	"clipd/internal/preprocess"
	"clipd/internal/vecmath"
)

// Error carries an HTTP status for the API layer.
type Error struct {
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode implements the HTTP layer's HTTPError interface.
func (e *Error) StatusCode() int { return e.Status }

// BadRequest returns a 400 error.
func BadRequest(msg string) error { return &Error{Status: http.StatusBadRequest, Msg: msg} }

// IsBadRequest reports whether err maps to 400.
func IsBadRequest(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusBadRequest
}

// errorKind labels an error for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case IsBadRequest(err):
		return "bad_input"
	case encoder.IsDependencyUnavailable(err):
		return "unavailable"
	case encoder.IsUpstream(err):
		return "upstream"
	default:
		return "internal"
	}
}

// translate maps lower-layer errors onto *Error with a status code.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Status: http.StatusGatewayTimeout, Msg: "inference timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, preprocess.ErrImageTooLarge):
		return &Error{Status: http.StatusRequestEntityTooLarge, Err: err}
	case errors.Is(err, preprocess.ErrInvalidImage), encoder.IsBadInput(err):
		return &Error{Status: http.StatusBadRequest, Err: err}
	case encoder.IsDependencyUnavailable(err):
		return &Error{Status: http.StatusServiceUnavailable, Err: err}
	case encoder.IsUpstream(err), errors.Is(err, vecmath.ErrZeroVector), errors.Is(err, vecmath.ErrDimMismatch):
		return &Error{Status: http.StatusBadGateway, Err: err}
	default:
		return &Error{Status: http.StatusInternalServerError, Err: err}
	}
}
