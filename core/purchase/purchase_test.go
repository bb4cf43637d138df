package purchase

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/irsalhamdi/course-orders/api/weberr"
	"github.com/irsalhamdi/course-orders/config"
	"github.com/irsalhamdi/course-orders/core/claims"
	"github.com/irsalhamdi/course-orders/core/ledger"
	"github.com/irsalhamdi/course-orders/core/order"
	"github.com/irsalhamdi/course-orders/core/payment"
	"github.com/irsalhamdi/course-orders/core/payment/stripetest"
	"github.com/irsalhamdi/course-orders/core/voucher"
	"github.com/irsalhamdi/course-orders/database/dbtest"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const secret = "whsec_purchase"

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

func countOrders(t *testing.T, db *sqlx.DB, pi string) int {
	t.Helper()
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM orders WHERE payment_intent = $1`, pi); err != nil {
		t.Fatalf("counting orders: %v", err)
	}
	return n
}

func status(err error) int {
	_, st, _ := weberr.Response(err)
	return st
}

func TestPurchase(t *testing.T) {
	db := dbtest.NewDB(t, "purchase_test")
	ctx := context.Background()
	now := time.Now().UTC()

	dbtest.SeedCourse(t, db, "c1", "50.00", now.Add(30*24*time.Hour))
	dbtest.SeedCourse(t, db, "ended", "50.00", now.Add(-time.Hour))
	dbtest.SeedCourse(t, db, "free", "0.00", now.Add(time.Hour))
	dbtest.SeedVoucher(t, db, "SAVE20", "r1", string(voucher.DiscountVoucher), "20")
	dbtest.SeedVoucher(t, db, "CASH10", "r1", string(voucher.CashVoucher), "10")
	dbtest.SeedVoucher(t, db, "ODD", "r1", "Free_Coffee", "1")

	t.Run("quote", func(t *testing.T) {
		tests := []struct {
			name   string
			req    CheckoutReq
			amount int64
			err    error
		}{
			{"list price", CheckoutReq{CourseID: "c1"}, 5000, nil},
			{"discount", CheckoutReq{CourseID: "c1", VoucherCode: "SAVE20"}, 4000, nil},
			{"cash", CheckoutReq{CourseID: "c1", VoucherCode: "CASH10"}, 4000, nil},
			{"unknown voucher", CheckoutReq{CourseID: "c1", VoucherCode: "NOPE"}, 0, voucher.ErrInvalidVoucher},
			{"unknown reward", CheckoutReq{CourseID: "c1", VoucherCode: "ODD"}, 0, voucher.ErrInvalidVoucherType},
			{"ended course", CheckoutReq{CourseID: "ended"}, 0, ErrCourseEnded},
			{"nothing to charge", CheckoutReq{CourseID: "free"}, 0, payment.ErrPricing},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				co, err := quote(ctx, db, "r1", tt.req, now)
				if tt.err != nil {
					if !errors.Is(err, tt.err) {
						t.Fatalf("got %v, want %v", err, tt.err)
					}
					return
				}
				if err != nil {
					t.Fatalf("quoting: %v", err)
				}
				if co.Amount != tt.amount {
					t.Fatalf("got amount %d, want %d", co.Amount, tt.amount)
				}
			})
		}
	})

	t.Run("checkout writes nothing", func(t *testing.T) {
		s, srv := newStripe(t)

		body := bytes.NewBufferString(`{"courseId":"c1","voucherCode":"SAVE20"}`)
		r := httptest.NewRequest(http.MethodPost, "/orders/checkout", body)
		rctx := claims.Set(ctx, claims.Claims{UserID: "r1", Role: claims.RoleResident})
		w := httptest.NewRecorder()

		if err := HandleCheckout(db, s)(rctx, w, r); err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if w.Code != http.StatusOK {
			t.Fatalf("got status %d, want 200", w.Code)
		}
		if calls := srv.Checkouts(); len(calls) != 1 || calls[0].Amount != 4000 {
			t.Fatalf("unexpected checkout calls: %+v", calls)
		}

		var n int
		if err := db.Get(&n, `SELECT COUNT(*) FROM orders WHERE resident_id = 'r1'`); err != nil {
			t.Fatalf("counting orders: %v", err)
		}
		if n != 0 {
			t.Fatalf("checkout stored %d orders", n)
		}
		if _, err := voucher.Lookup(ctx, db, "SAVE20", "r1"); err != nil {
			t.Fatalf("voucher consumed before payment: %v", err)
		}
	})

	t.Run("checkout provider failure", func(t *testing.T) {
		s, srv := newStripe(t)
		srv.FailNext()

		body := bytes.NewBufferString(`{"courseId":"c1"}`)
		r := httptest.NewRequest(http.MethodPost, "/orders/checkout", body)
		rctx := claims.Set(ctx, claims.Claims{UserID: "r1", Role: claims.RoleResident})

		err := HandleCheckout(db, s)(rctx, httptest.NewRecorder(), r)
		if status(err) != http.StatusBadGateway {
			t.Fatalf("got %v, want a 502", err)
		}
	})

	t.Run("ingest stores order, points and consumes voucher", func(t *testing.T) {
		created := now.Add(-time.Minute).Truncate(time.Second)
		s, _ := newStripe(t)
		log, hook := test.NewNullLogger()

		body, sig := stripetest.Sign(t, secret, stripetest.Completed("pi_ingest", "r1", "c1", "SAVE20", created))
		r := httptest.NewRequest(http.MethodPost, "/orders/stripe/webhook", bytes.NewReader(body))
		r.Header.Set(payment.SignatureHeader, sig)
		w := httptest.NewRecorder()

		if err := HandleStripeWebhook(db, s, log)(ctx, w, r); err != nil {
			t.Fatalf("webhook: %v", err)
		}
		if w.Code != http.StatusNoContent {
			t.Fatalf("got status %d, want 204", w.Code)
		}

		orders, err := order.QueryByPaymentIntent(ctx, db, "pi_ingest")
		if err != nil {
			t.Fatalf("querying orders: %v", err)
		}
		if len(orders) != 1 {
			t.Fatalf("got %d orders, want 1", len(orders))
		}
		o := orders[0]
		if o.Status != order.Upcoming || !o.Date.Equal(created) || o.ResidentID != "r1" {
			t.Fatalf("unexpected order: %+v", o)
		}

		recs, err := ledger.QueryByResident(ctx, db, "r1")
		if err != nil {
			t.Fatalf("listing points: %v", err)
		}
		var rec *ledger.Record
		for i := range recs {
			if recs[i].OrderID == o.ID {
				rec = &recs[i]
			}
		}
		if rec == nil || rec.Points != 40 || rec.Description != "Purchase of Course c1" || rec.Status != ledger.Pending {
			t.Fatalf("unexpected point record: %+v", rec)
		}

		if _, err := voucher.Lookup(ctx, db, "SAVE20", "r1"); !errors.Is(err, voucher.ErrInvalidVoucher) {
			t.Fatalf("voucher still usable: %v", err)
		}

		// redelivery is accepted and left to the duplicate sweep
		r = httptest.NewRequest(http.MethodPost, "/orders/stripe/webhook", bytes.NewReader(body))
		r.Header.Set(payment.SignatureHeader, sig)
		if err := HandleStripeWebhook(db, s, log)(ctx, httptest.NewRecorder(), r); err != nil {
			t.Fatalf("redelivery: %v", err)
		}
		if n := countOrders(t, db, "pi_ingest"); n != 2 {
			t.Fatalf("got %d orders after redelivery, want 2", n)
		}
		if n := len(hook.AllEntries()); n != 0 {
			t.Fatalf("redelivery logged %d entries, want none", n)
		}
	})

	t.Run("unverified event is rejected", func(t *testing.T) {
		s, _ := newStripe(t)

		body, sig := stripetest.Sign(t, "whsec_forged", stripetest.Completed("pi_forged", "r1", "c1", "", now))
		r := httptest.NewRequest(http.MethodPost, "/orders/stripe/webhook", bytes.NewReader(body))
		r.Header.Set(payment.SignatureHeader, sig)

		log, _ := test.NewNullLogger()
		err := HandleStripeWebhook(db, s, log)(ctx, httptest.NewRecorder(), r)
		if !errors.Is(err, payment.ErrUnauthenticatedEvent) || status(err) != http.StatusBadRequest {
			t.Fatalf("got %v, want a 400 unauthenticated event", err)
		}
		if n := countOrders(t, db, "pi_forged"); n != 0 {
			t.Fatalf("forged event stored %d orders", n)
		}
	})

	t.Run("unknown voucher fails after the order is durable", func(t *testing.T) {
		c := payment.Completion{
			EventID:       "evt_lost",
			PaymentIntent: "pi_lost_voucher",
			ResidentID:    "r2",
			CourseID:      "c1",
			VoucherCode:   "GONE",
			AmountTotal:   5000,
			OccurredAt:    now,
		}
		log, _ := test.NewNullLogger()
		if _, err := Ingest(ctx, db, log, c, now); err == nil {
			t.Fatal("expected the voucher failure to surface")
		}
		if n := countOrders(t, db, "pi_lost_voucher"); n != 1 {
			t.Fatalf("got %d orders, want the paid order kept", n)
		}
	})

	t.Run("voucher paid twice is reported", func(t *testing.T) {
		dbtest.SeedVoucher(t, db, "TWICE", "r4", string(voucher.CashVoucher), "10")
		log, hook := test.NewNullLogger()

		for _, pi := range []string{"pi_twice_1", "pi_twice_2"} {
			c := payment.Completion{
				EventID:       "evt_" + pi,
				PaymentIntent: pi,
				ResidentID:    "r4",
				CourseID:      "c1",
				VoucherCode:   "TWICE",
				AmountTotal:   4000,
				OccurredAt:    now,
			}
			if _, err := Ingest(ctx, db, log, c, now); err != nil {
				t.Fatalf("ingesting %s: %v", pi, err)
			}
			if n := countOrders(t, db, pi); n != 1 {
				t.Fatalf("got %d orders for %s, want 1", n, pi)
			}
		}

		entries := hook.AllEntries()
		if len(entries) != 1 {
			t.Fatalf("got %d log entries, want 1", len(entries))
		}
		e := entries[0]
		if e.Level != logrus.WarnLevel || e.Data["payment_intent"] != "pi_twice_2" || e.Data["first_payment"] != "pi_twice_1" {
			t.Fatalf("unexpected entry: level %s, fields %v", e.Level, e.Data)
		}
	})

	t.Run("staff creation", func(t *testing.T) {
		body := bytes.NewBufferString(`{"residentId":"r3","courseId":"c1"}`)
		r := httptest.NewRequest(http.MethodPost, "/orders", body)
		w := httptest.NewRecorder()

		if err := HandleCreate(db)(ctx, w, r); err != nil {
			t.Fatalf("creating: %v", err)
		}
		if w.Code != http.StatusCreated {
			t.Fatalf("got status %d, want 201", w.Code)
		}

		orders, err := order.QueryByResident(ctx, db, "r3")
		if err != nil || len(orders) != 1 {
			t.Fatalf("got %d orders (%v), want 1", len(orders), err)
		}
		if orders[0].PaymentIntent != nil || orders[0].Status != order.Upcoming {
			t.Fatalf("unexpected order: %+v", orders[0])
		}

		recs, err := ledger.QueryByResident(ctx, db, "r3")
		if err != nil || len(recs) != 1 || recs[0].Points != 50 {
			t.Fatalf("got %+v (%v), want one record of 50 points", recs, err)
		}
	})
}
