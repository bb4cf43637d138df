package test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/irsalhamdi/course-orders/api"
	"github.com/irsalhamdi/course-orders/config"
	"github.com/irsalhamdi/course-orders/core/auth"
	"github.com/irsalhamdi/course-orders/core/claims"
	"github.com/irsalhamdi/course-orders/core/payment"
	"github.com/irsalhamdi/course-orders/core/payment/stripetest"
	"github.com/irsalhamdi/course-orders/database/dbtest"
	"github.com/irsalhamdi/course-orders/rate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus/hooks/test"
)

const (
	authSecret    = "auth-secret"
	webhookSecret = "whsec_api_test"
	refundTimeout = 200 * time.Millisecond
)

type TestEnv struct {
	*httptest.Server
	DB            *sqlx.DB
	Stripe        *stripetest.Server
	Verifier      *auth.Verifier
	WebhookSecret string
}

func NewTestEnv(t *testing.T, name string) (*TestEnv, error) {
	t.Helper()

	db := dbtest.NewDB(t, name)
	strp := stripetest.NewServer(t)
	log, _ := test.NewNullLogger()

	cfg := config.Stripe{
		APISecret:     "sk_test_api",
		WebhookSecret: webhookSecret,
		SuccessURL:    "http://localhost/success",
		CancelURL:     "http://localhost/cancel",
		Currency:      "usd",
		BackendURL:    strp.URL,
	}

	v := auth.NewVerifier(authSecret)
	mux := api.APIMux(api.APIConfig{
		Log:           log,
		DB:            db,
		Payments:      payment.NewStripe(cfg, log),
		Verifier:      v,
		Limiter:       rate.NewLimiter(1000, time.Minute, 1000),
		RefundTimeout: refundTimeout,
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &TestEnv{
		Server:        srv,
		DB:            db,
		Stripe:        strp,
		Verifier:      v,
		WebhookSecret: webhookSecret,
	}, nil
}

func (env *TestEnv) Resident(t *testing.T, id string) string {
	return env.token(t, claims.Claims{UserID: id, Role: claims.RoleResident})
}

func (env *TestEnv) Staff(t *testing.T, id string) string {
	return env.token(t, claims.Claims{UserID: id, Role: claims.RoleAdmin})
}

func (env *TestEnv) token(t *testing.T, c claims.Claims) string {
	t.Helper()

	token, err := env.Verifier.Sign(c, time.Hour)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

// Do sends a request with an optional bearer token and JSON body and decodes
// the JSON answer into dest when dest is not nil.
func (env *TestEnv) Do(t *testing.T, method, path, token string, body any, dest any) int {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}

	r, err := http.NewRequest(method, env.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	return env.send(t, r, dest)
}

// Deliver posts a signed Stripe event to the webhook.
func (env *TestEnv) Deliver(t *testing.T, secret string, e stripetest.Event) int {
	t.Helper()

	b, sig := stripetest.Sign(t, secret, e)
	r, err := http.NewRequest(http.MethodPost, env.URL+"/orders/stripe/webhook", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	r.Header.Set(payment.SignatureHeader, sig)

	return env.send(t, r, nil)
}

func (env *TestEnv) send(t *testing.T, r *http.Request, dest any) int {
	t.Helper()

	w, err := env.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if dest != nil && w.StatusCode < http.StatusBadRequest {
		if err := json.NewDecoder(w.Body).Decode(dest); err != nil {
			t.Fatalf("decoding %s %s response: %v", r.Method, r.URL.Path, err)
		}
	}
	return w.StatusCode
}
