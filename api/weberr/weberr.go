// Package weberr attaches HTTP response details and log fields to errors
// without losing the wrapped cause.
package weberr

import "errors"

type Opt func(error) error

func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

func WithResponse(body any, status int) Opt {
	return func(err error) error {
		return &responseError{error: err, body: body, status: status}
	}
}

func WithFields(fields map[string]any) Opt {
	return func(err error) error {
		return &fieldsError{error: err, fields: fields}
	}
}

type responder interface {
	Response() (body any, status int)
}

// Response returns the outermost response attached to err.
func Response(err error) (body any, status int, ok bool) {
	var re responder
	if errors.As(err, &re) {
		body, status = re.Response()
		return body, status, true
	}
	return nil, 0, false
}

type fielder interface {
	Fields() map[string]any
}

// Fields merges the log fields of every layer of err, outer layers winning.
func Fields(err error) (map[string]any, bool) {
	merged := map[string]any{}
	found := false
	for e := err; e != nil; e = errors.Unwrap(e) {
		fe, ok := e.(fielder)
		if !ok {
			continue
		}
		found = true
		for k, v := range fe.Fields() {
			if _, set := merged[k]; !set {
				merged[k] = v
			}
		}
	}
	return merged, found
}

type responseError struct {
	error
	body   any
	status int
}

func (e *responseError) Response() (any, int) { return e.body, e.status }

func (e *responseError) Unwrap() error { return e.error }

type fieldsError struct {
	error
	fields map[string]any
}

func (e *fieldsError) Fields() map[string]any { return e.fields }

func (e *fieldsError) Unwrap() error { return e.error }
