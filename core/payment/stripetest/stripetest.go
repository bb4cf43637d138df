// Package stripetest provides a fake Stripe API and signed webhook payloads
// for tests.
package stripetest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/irsalhamdi/course-orders/api/web"
	"github.com/irsalhamdi/course-orders/core/payment"
	"github.com/irsalhamdi/course-orders/random"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	mock "github.com/stripe/stripe-mock/param"
)

type CheckoutCall struct {
	Amount   int64
	Quantity string
	Currency string
	Name     string
	Metadata map[string]string
}

type RefundCall struct {
	PaymentIntent  string
	Reason         string
	IdempotencyKey string
}

// Server records the calls made against it and answers like Stripe would.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	checkouts []CheckoutCall
	refunds   []RefundCall
	failNext  bool
	delay     time.Duration
}

func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{}
	r := mux.NewRouter()
	r.HandleFunc("/v1/checkout/sessions", s.checkout).Methods(http.MethodPost)
	r.HandleFunc("/v1/refunds", s.refund).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// FailNext makes the next request answer with a card error.
func (s *Server) FailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Delay holds every response for d.
func (s *Server) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Server) Checkouts() []CheckoutCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CheckoutCall(nil), s.checkouts...)
}

func (s *Server) Refunds() []RefundCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RefundCall(nil), s.refunds...)
}

func (s *Server) hold(r *http.Request) (fail bool) {
	s.mu.Lock()
	fail, s.failNext = s.failNext, false
	d := s.delay
	s.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
		}
	}
	return fail
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := context.Background()
	if s.hold(r) {
		web.Respond(ctx, w, stripeError("api_error", "checkout unavailable"), http.StatusBadRequest)
		return
	}

	params, err := mock.ParseParams(r)
	if err != nil {
		web.Respond(ctx, w, stripeError("invalid_request_error", err.Error()), http.StatusBadRequest)
		return
	}

	call := CheckoutCall{Metadata: map[string]string{}}
	if md, ok := params["metadata"].(map[string]any); ok {
		for k, v := range md {
			call.Metadata[k], _ = v.(string)
		}
	}

	lines, _ := params["line_items"].(map[string]any)
	for _, li := range lines {
		it, _ := li.(map[string]any)
		call.Quantity, _ = it["quantity"].(string)

		pd, _ := it["price_data"].(map[string]any)
		call.Currency, _ = pd["currency"].(string)
		amount, _ := pd["unit_amount"].(string)
		call.Amount, _ = strconv.ParseInt(amount, 10, 64)

		prod, _ := pd["product_data"].(map[string]any)
		call.Name, _ = prod["name"].(string)
	}

	s.mu.Lock()
	s.checkouts = append(s.checkouts, call)
	s.mu.Unlock()

	id := random.ID("cs_test")

	sess := map[string]any{
		"id":     id,
		"object": "checkout.session",
		"mode":   "payment",
		"url":    "https://checkout.stripe.test/pay/" + id,
	}
	web.Respond(ctx, w, sess, http.StatusOK)
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	ctx := context.Background()
	if s.hold(r) {
		web.Respond(ctx, w, stripeError("card_error", "refund declined"), http.StatusPaymentRequired)
		return
	}

	params, err := mock.ParseParams(r)
	if err != nil {
		web.Respond(ctx, w, stripeError("invalid_request_error", err.Error()), http.StatusBadRequest)
		return
	}

	call := RefundCall{IdempotencyKey: r.Header.Get("Idempotency-Key")}
	call.PaymentIntent, _ = params["payment_intent"].(string)
	call.Reason, _ = params["reason"].(string)

	s.mu.Lock()
	s.refunds = append(s.refunds, call)
	s.mu.Unlock()

	re := map[string]any{
		"id":             random.ID("re"),
		"object":         "refund",
		"status":         "succeeded",
		"payment_intent": call.PaymentIntent,
	}
	web.Respond(ctx, w, re, http.StatusOK)
}

func stripeError(typ, msg string) map[string]any {
	return map[string]any{"error": map[string]any{"type": typ, "message": msg}}
}

// Event describes a webhook delivery to sign.
type Event struct {
	ID            string
	Type          string
	Created       time.Time
	SessionID     string
	Mode          string
	PaymentStatus string
	PaymentIntent string
	AmountTotal   int64
	Metadata      map[string]string
}

// Completed builds a checkout.session.completed event for an order.
func Completed(paymentIntent, residentID, courseID, voucherCode string, created time.Time) Event {
	md := map[string]string{
		payment.MetaResidentID: residentID,
		payment.MetaCourseID:   courseID,
	}
	if voucherCode != "" {
		md[payment.MetaVoucherCode] = voucherCode
	}
	return Event{
		ID:            "evt_" + paymentIntent,
		Type:          payment.SessionCompleted,
		Created:       created,
		SessionID:     "cs_" + paymentIntent,
		Mode:          string(stripe.CheckoutSessionModePayment),
		PaymentStatus: string(stripe.CheckoutSessionPaymentStatusPaid),
		PaymentIntent: paymentIntent,
		AmountTotal:   4000,
		Metadata:      md,
	}
}

// Sign returns the raw body and Stripe-Signature header for e.
func Sign(t *testing.T, secret string, e Event) ([]byte, string) {
	t.Helper()

	obj := map[string]any{
		"id":             e.SessionID,
		"object":         "checkout.session",
		"mode":           e.Mode,
		"payment_status": e.PaymentStatus,
		"payment_intent": e.PaymentIntent,
		"amount_total":   e.AmountTotal,
		"metadata":       e.Metadata,
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatal(err)
	}

	evt := map[string]any{
		"id":          e.ID,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        e.Type,
		"created":     e.Created.Unix(),
		"data":        map[string]any{"object": json.RawMessage(raw)},
	}
	body, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return body, signed.Header
}
