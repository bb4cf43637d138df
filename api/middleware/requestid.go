package middleware

import (
	"context"
	"net/http"

	"github.com/irsalhamdi/course-orders/api/web"
	"github.com/irsalhamdi/course-orders/validate"
)

const (
	RequestIDHeader = "X-Request-Id"

	maxRequestIDLength = 128
)

type reqIDKeyCtx int

const reqIDKey reqIDKeyCtx = 1

// RequestID propagates the caller's request id, or assigns a new one, and
// echoes it back in the response headers.
func RequestID() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			id := r.Header.Get(RequestIDHeader)
			switch {
			case id == "":
				id = validate.GenerateID()
			case len(id) > maxRequestIDLength:
				id = id[:maxRequestIDLength]
			}

			w.Header().Set(RequestIDHeader, id)
			ctx = context.WithValue(ctx, reqIDKey, id)
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func ContextRequestID(ctx context.Context) string {
	id, _ := ctx.Value(reqIDKey).(string)
	return id
}
