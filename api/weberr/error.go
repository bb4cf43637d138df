package weberr

import (
	"net/http"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type RequestError struct {
	Err error
}

func (r *RequestError) Error() string { return r.Err.Error() }

func (r *RequestError) Unwrap() error { return r.Err }

func NewError(err error, msg string, status int, opts ...Opt) error {
	e := &RequestError{Err: err}
	opts = append(opts, WithResponse(&ErrorResponse{msg}, status))
	return Wrap(e, opts...)
}

func NotFound(err error, opts ...Opt) error {
	return NewError(err, "the resource could not be found", http.StatusNotFound, opts...)
}

func NotAuthorized(err error, opts ...Opt) error {
	return NewError(err, "not authorized to access resource", http.StatusUnauthorized, opts...)
}

func Forbidden(err error, opts ...Opt) error {
	return NewError(err, "access to the resource is forbidden", http.StatusForbidden, opts...)
}

func BadRequest(err error, opts ...Opt) error {
	return NewError(err, "bad request", http.StatusBadRequest, opts...)
}

// Invalid reports a validation failure; the message is shown to the client.
func Invalid(err error, opts ...Opt) error {
	return NewError(err, err.Error(), http.StatusUnprocessableEntity, opts...)
}

// Conflict reports a request that does not apply to the current resource state.
func Conflict(err error, opts ...Opt) error {
	return NewError(err, err.Error(), http.StatusConflict, opts...)
}

func TooManyRequests(err error, opts ...Opt) error {
	return NewError(err, "too many requests", http.StatusTooManyRequests, opts...)
}

func BadGateway(err error, opts ...Opt) error {
	return NewError(err, "the payment provider could not complete the request", http.StatusBadGateway, opts...)
}

func InternalError(err error, opts ...Opt) error {
	return NewError(err, "the server encountered a problem and could not process your request", http.StatusInternalServerError, opts...)
}
