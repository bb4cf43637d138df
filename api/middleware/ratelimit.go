package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/irsalhamdi/course-orders/api/web"
	"github.com/irsalhamdi/course-orders/api/weberr"
	"github.com/irsalhamdi/course-orders/core/claims"
	"github.com/irsalhamdi/course-orders/rate"
)

// RateLimit rejects requests once the caller has used up its budget. Callers
// are keyed by resident when authenticated and by remote address otherwise.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			key := clientKey(ctx, r)
			if !lim.Check(key) {
				return weberr.TooManyRequests(errors.New("rate limit exceeded"),
					weberr.WithFields(map[string]any{"client": key}))
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func clientKey(ctx context.Context, r *http.Request) string {
	if c, err := claims.Get(ctx); err == nil {
		return "resident:" + c.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
