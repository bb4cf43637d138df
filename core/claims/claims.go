// Package claims carries the authenticated caller through the request context.
package claims

import (
	"context"
	"errors"
)

const (
	RoleAdmin    = "ADMIN"
	RoleResident = "RESIDENT"
)

var ErrMissing = errors.New("claim value missing from context")

type Claims struct {
	UserID string
	Role   string
}

func (c Claims) Admin() bool { return c.Role == RoleAdmin }

type ctxKey int

const claimsKey ctxKey = 1

func Set(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func Get(ctx context.Context) (Claims, error) {
	v, ok := ctx.Value(claimsKey).(Claims)
	if !ok {
		return Claims{}, ErrMissing
	}
	return v, nil
}

func IsAdmin(ctx context.Context) bool {
	c, err := Get(ctx)
	return err == nil && c.Admin()
}

func IsUser(ctx context.Context, id string) bool {
	c, err := Get(ctx)
	return err == nil && c.UserID == id
}

// CanAccess reports whether the caller owns the resident's data or is staff.
func CanAccess(ctx context.Context, residentID string) bool {
	return IsUser(ctx, residentID) || IsAdmin(ctx)
}
