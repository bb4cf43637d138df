// Package auth verifies the HS256 JSON web tokens issued by the community
// application with a secret shared between both services.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/irsalhamdi/course-orders/api/web"
	"github.com/irsalhamdi/course-orders/api/weberr"
	"github.com/irsalhamdi/course-orders/core/claims"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

// Sign issues a token valid for ttl, the way the community application does.
func (v *Verifier) Sign(c claims.Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		Role: c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(v.secret)
}

func (v *Verifier) Verify(token string) (claims.Claims, error) {
	var tc tokenClaims
	t, err := v.parser.ParseWithClaims(token, &tc, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims.Claims{}, ErrExpiredToken
	case err != nil:
		return claims.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !t.Valid:
		return claims.Claims{}, ErrInvalidToken
	}

	if tc.Subject == "" {
		return claims.Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	switch tc.Role {
	case claims.RoleAdmin, claims.RoleResident:
	default:
		return claims.Claims{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, tc.Role)
	}

	return claims.Claims{UserID: tc.Subject, Role: tc.Role}, nil
}

// Authenticate requires a valid bearer token and stores its claims in the
// request context.
func Authenticate(v *Verifier) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			token, ok := bearer(r)
			if !ok {
				return weberr.NotAuthorized(ErrMissingToken)
			}

			c, err := v.Verify(token)
			if err != nil {
				return weberr.NotAuthorized(err)
			}

			return handler(claims.Set(ctx, c), w, r)
		}
		return h
	}
	return m
}

// Admin authenticates the caller and additionally requires the staff role.
func Admin(v *Verifier) web.Middleware {
	authen := Authenticate(v)
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if !claims.IsAdmin(ctx) {
				return weberr.Forbidden(errors.New("staff role required"))
			}
			return handler(ctx, w, r)
		}
		return authen(h)
	}
	return m
}

func bearer(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
