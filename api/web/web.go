package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/irsalhamdi/course-orders/validate"
)

// Handler is the signature every route implements. A returned error is turned
// into a response by the Errors middleware.
type Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

type Middleware func(Handler) Handler

func WrapMiddleware(mw []Middleware, handler Handler) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		if m := mw[i]; m != nil {
			handler = m(handler)
		}
	}
	return handler
}

func Respond(ctx context.Context, w http.ResponseWriter, data any, statusCode int) error {
	if statusCode == http.StatusNoContent || data == nil {
		w.WriteHeader(statusCode)
		return nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling response: %w", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

const maxBodyBytes = 1 << 20

// Decode reads a JSON body into val and validates it against its struct tags.
func Decode(w http.ResponseWriter, r *http.Request, val any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(val); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}

	return validate.Check(val)
}

func Param(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}
