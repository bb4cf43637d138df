package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irsalhamdi/course-orders/config"
	"github.com/irsalhamdi/course-orders/core/payment"
	"github.com/irsalhamdi/course-orders/core/payment/stripetest"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stripe/stripe-go/v74"
)

const secret = "whsec_test"

func newStripe(t *testing.T) (*payment.Stripe, *stripetest.Server) {
	t.Helper()

	srv := stripetest.NewServer(t)
	log, _ := test.NewNullLogger()
	cfg := config.Stripe{
		APISecret:     "sk_test_123",
		WebhookSecret: secret,
		SuccessURL:    "http://localhost/success",
		CancelURL:     "http://localhost/cancel",
		Currency:      "usd",
		BackendURL:    srv.URL,
	}
	return payment.NewStripe(cfg, log), srv
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
		err    bool
	}{
		{"40", 4000, false},
		{"40.00", 4000, false},
		{"0.01", 1, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"10.005", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := payment.MinorUnits(decimal.RequireFromString(tt.amount))
			if tt.err {
				if !errors.Is(err, payment.ErrPricing) {
					t.Fatalf("got %v, want ErrPricing", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCreateCheckout(t *testing.T) {
	s, srv := newStripe(t)

	sess, err := s.CreateCheckout(context.Background(), payment.Checkout{
		ResidentID:  "r1",
		CourseID:    "c1",
		CourseName:  "Composting 101",
		VoucherCode: "SAVE20",
		Amount:      4000,
	})
	if err != nil {
		t.Fatalf("creating checkout: %v", err)
	}
	if sess.ID == "" || sess.URL == "" {
		t.Fatalf("expected a session handle, got %+v", sess)
	}

	calls := srv.Checkouts()
	if len(calls) != 1 {
		t.Fatalf("got %d checkout calls, want 1", len(calls))
	}
	want := stripetest.CheckoutCall{
		Amount:   4000,
		Quantity: "1",
		Currency: "usd",
		Name:     "Composting 101",
		Metadata: map[string]string{
			payment.MetaResidentID:  "r1",
			payment.MetaCourseID:    "c1",
			payment.MetaVoucherCode: "SAVE20",
		},
	}
	if diff := cmp.Diff(want, calls[0]); diff != "" {
		t.Fatalf("unexpected checkout call (-want +got):\n%s", diff)
	}
}

func TestCreateCheckoutErrors(t *testing.T) {
	s, srv := newStripe(t)
	ctx := context.Background()

	if _, err := s.CreateCheckout(ctx, payment.Checkout{ResidentID: "r1", CourseID: "c1", Amount: 0}); !errors.Is(err, payment.ErrPricing) {
		t.Fatalf("zero amount: got %v, want ErrPricing", err)
	}

	srv.FailNext()
	if _, err := s.CreateCheckout(ctx, payment.Checkout{ResidentID: "r1", CourseID: "c1", Amount: 100}); !errors.Is(err, payment.ErrUpstreamUnavailable) {
		t.Fatalf("provider failure: got %v, want ErrUpstreamUnavailable", err)
	}
}

func TestRefund(t *testing.T) {
	s, srv := newStripe(t)
	ctx := context.Background()

	if err := s.Refund(ctx, "pi_123"); err != nil {
		t.Fatalf("refunding: %v", err)
	}

	want := []stripetest.RefundCall{{
		PaymentIntent:  "pi_123",
		Reason:         "requested_by_customer",
		IdempotencyKey: "refund-pi_123",
	}}
	if diff := cmp.Diff(want, srv.Refunds()); diff != "" {
		t.Fatalf("unexpected refund calls (-want +got):\n%s", diff)
	}

	srv.FailNext()
	if err := s.Refund(ctx, "pi_456"); !errors.Is(err, payment.ErrUpstreamUnavailable) {
		t.Fatalf("declined refund: got %v, want ErrUpstreamUnavailable", err)
	}
}

func TestParseCompletion(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	body, sig := stripetest.Sign(t, secret, stripetest.Completed("pi_123", "r1", "c1", "SAVE20", created))
	got, ok, err := payment.ParseCompletion(body, sig, secret)
	if err != nil {
		t.Fatalf("parsing completion: %v", err)
	}
	if !ok {
		t.Fatal("expected the completion to be acted on")
	}

	want := payment.Completion{
		EventID:       "evt_pi_123",
		SessionID:     "cs_pi_123",
		PaymentIntent: "pi_123",
		ResidentID:    "r1",
		CourseID:      "c1",
		VoucherCode:   "SAVE20",
		AmountTotal:   4000,
		OccurredAt:    created,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected completion (-want +got):\n%s", diff)
	}
}

func TestParseCompletionAsyncPayment(t *testing.T) {
	e := stripetest.Completed("pi_async", "r1", "c1", "", time.Now())
	e.Type = payment.SessionAsyncPaymentSucceeded

	body, sig := stripetest.Sign(t, secret, e)
	got, ok, err := payment.ParseCompletion(body, sig, secret)
	if err != nil {
		t.Fatalf("parsing async payment: %v", err)
	}
	if !ok || got.PaymentIntent != "pi_async" {
		t.Fatalf("settled async payment not acted on: ok=%v %+v", ok, got)
	}
}

func TestParseCompletionRejects(t *testing.T) {
	now := time.Now()
	evt := stripetest.Completed("pi_123", "r1", "c1", "", now)

	t.Run("wrong secret", func(t *testing.T) {
		body, sig := stripetest.Sign(t, "whsec_other", evt)
		if _, _, err := payment.ParseCompletion(body, sig, secret); !errors.Is(err, payment.ErrUnauthenticatedEvent) {
			t.Fatalf("got %v, want ErrUnauthenticatedEvent", err)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		body, _ := stripetest.Sign(t, secret, evt)
		if _, _, err := payment.ParseCompletion(body, "", secret); !errors.Is(err, payment.ErrUnauthenticatedEvent) {
			t.Fatalf("got %v, want ErrUnauthenticatedEvent", err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		body, sig := stripetest.Sign(t, secret, evt)
		body = append(body, ' ')
		if _, _, err := payment.ParseCompletion(body, sig, secret); !errors.Is(err, payment.ErrUnauthenticatedEvent) {
			t.Fatalf("got %v, want ErrUnauthenticatedEvent", err)
		}
	})

	t.Run("missing metadata", func(t *testing.T) {
		e := evt
		e.Metadata = map[string]string{}
		body, sig := stripetest.Sign(t, secret, e)
		if _, _, err := payment.ParseCompletion(body, sig, secret); !errors.Is(err, payment.ErrMalformedEvent) {
			t.Fatalf("got %v, want ErrMalformedEvent", err)
		}
	})
}

func TestParseCompletionIgnores(t *testing.T) {
	now := time.Now()

	other := stripetest.Completed("pi_1", "r1", "c1", "", now)
	other.Type = "checkout.session.expired"

	sub := stripetest.Completed("pi_2", "r1", "c1", "", now)
	sub.Mode = "subscription"

	unpaid := stripetest.Completed("pi_3", "r1", "c1", "", now)
	unpaid.PaymentStatus = string(stripe.CheckoutSessionPaymentStatusUnpaid)

	failed := stripetest.Completed("pi_4", "r1", "c1", "", now)
	failed.Type = "checkout.session.async_payment_failed"

	events := map[string]stripetest.Event{
		"other type":    other,
		"subscription":  sub,
		"unpaid":        unpaid,
		"async failure": failed,
	}
	for name, e := range events {
		t.Run(name, func(t *testing.T) {
			body, sig := stripetest.Sign(t, secret, e)
			_, ok, err := payment.ParseCompletion(body, sig, secret)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Fatal("event must be ignored")
			}
		})
	}
}
