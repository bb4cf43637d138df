// Package payment talks to Stripe: it opens checkout sessions, issues refunds
// and authenticates webhook deliveries.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-orders/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Metadata keys attached to every checkout session. They are the only context
// that survives the redirect to the hosted payment page.
const (
	MetaResidentID  = "resident_id"
	MetaCourseID    = "course_id"
	MetaVoucherCode = "voucher_code"
)

const (
	SignatureHeader = "Stripe-Signature"

	// A completed session is paid unless the payment method settles later,
	// in which case the async success event follows.
	SessionCompleted             = "checkout.session.completed"
	SessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

var (
	ErrPricing              = errors.New("amount must be a positive whole number of cents")
	ErrUpstreamUnavailable  = errors.New("payment provider unavailable")
	ErrUnauthenticatedEvent = errors.New("webhook signature verification failed")
	ErrMalformedEvent       = errors.New("webhook event is missing order metadata")
)

type Checkout struct {
	ResidentID  string
	CourseID    string
	CourseName  string
	VoucherCode string
	Amount      int64
}

type Session struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// Completion is the order-relevant content of a completed checkout session.
type Completion struct {
	EventID       string
	SessionID     string
	PaymentIntent string
	ResidentID    string
	CourseID      string
	VoucherCode   string
	AmountTotal   int64
	OccurredAt    time.Time
}

type Stripe struct {
	api *stripecl.API
	cfg config.Stripe
}

func NewStripe(cfg config.Stripe, log logrus.FieldLogger) *Stripe {
	bc := &stripe.BackendConfig{
		LeveledLogger:     log,
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
	}
	if cfg.BackendURL != "" {
		bc.URL = stripe.String(cfg.BackendURL)
	}
	api := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
	uploads := stripe.GetBackendWithConfig(stripe.UploadsBackend, bc)

	cl := &stripecl.API{}
	cl.Init(cfg.APISecret, &stripe.Backends{API: api, Connect: api, Uploads: uploads})

	return &Stripe{api: cl, cfg: cfg}
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a price in major units into cents.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Mul(hundred)
	if !cents.IsPositive() || !cents.IsInteger() {
		return 0, fmt.Errorf("%w: got %s", ErrPricing, amount)
	}
	return cents.IntPart(), nil
}

// CreateCheckout opens a hosted checkout session. Nothing is stored locally:
// the order is materialised from the completion webhook.
func (s *Stripe) CreateCheckout(ctx context.Context, c Checkout) (Session, error) {
	if c.Amount <= 0 {
		return Session{}, fmt.Errorf("%w: got %d", ErrPricing, c.Amount)
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(c.ResidentID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.cfg.Currency),
				UnitAmount: stripe.Int64(c.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(c.CourseName),
				},
			},
		}},
	}
	params.Context = ctx
	params.AddMetadata(MetaResidentID, c.ResidentID)
	params.AddMetadata(MetaCourseID, c.CourseID)
	if c.VoucherCode != "" {
		params.AddMetadata(MetaVoucherCode, c.VoucherCode)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("%w: creating checkout session: %v", ErrUpstreamUnavailable, err)
	}

	return Session{ID: sess.ID, URL: sess.URL}, nil
}

// Refund returns the full amount of a payment intent. Retries reuse the same
// idempotency key so the provider refunds at most once.
func (s *Stripe) Refund(ctx context.Context, paymentIntent string) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntent),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + paymentIntent)

	if _, err := s.api.Refunds.New(params); err != nil {
		return fmt.Errorf("%w: refunding payment[%s]: %v", ErrUpstreamUnavailable, paymentIntent, err)
	}
	return nil
}

// ParseCompletion authenticates a webhook delivery and extracts the completed
// checkout it carries. ok is false for events that are not acted upon.
func (s *Stripe) ParseCompletion(payload []byte, sigHeader string) (c Completion, ok bool, err error) {
	return ParseCompletion(payload, sigHeader, s.cfg.WebhookSecret)
}

func ParseCompletion(payload []byte, sigHeader string, secret string) (Completion, bool, error) {
	if sigHeader == "" {
		return Completion{}, false, fmt.Errorf("%w: missing %s header", ErrUnauthenticatedEvent, SignatureHeader)
	}

	evt, err := webhook.ConstructEvent(payload, sigHeader, secret)
	if err != nil {
		return Completion{}, false, fmt.Errorf("%w: %v", ErrUnauthenticatedEvent, err)
	}

	switch {
	case evt.Data == nil:
		return Completion{}, false, nil
	case evt.Type == SessionCompleted, evt.Type == SessionAsyncPaymentSucceeded:
	default:
		return Completion{}, false, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return Completion{}, false, fmt.Errorf("%w: decoding session: %v", ErrMalformedEvent, err)
	}

	if sess.Mode != stripe.CheckoutSessionModePayment || sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return Completion{}, false, nil
	}

	c := Completion{
		EventID:     evt.ID,
		SessionID:   sess.ID,
		ResidentID:  sess.Metadata[MetaResidentID],
		CourseID:    sess.Metadata[MetaCourseID],
		VoucherCode: sess.Metadata[MetaVoucherCode],
		AmountTotal: sess.AmountTotal,
		OccurredAt:  time.Unix(evt.Created, 0).UTC(),
	}
	if sess.PaymentIntent != nil {
		c.PaymentIntent = sess.PaymentIntent.ID
	}

	if c.ResidentID == "" || c.CourseID == "" || c.PaymentIntent == "" {
		return Completion{}, false, fmt.Errorf("%w: session[%s]", ErrMalformedEvent, sess.ID)
	}
	return c, true, nil
}
