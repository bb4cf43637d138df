package purchase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/irsalhamdi/course-orders/api/web"
	"github.com/irsalhamdi/course-orders/api/weberr"
	"github.com/irsalhamdi/course-orders/core/claims"
	"github.com/irsalhamdi/course-orders/core/course"
	"github.com/irsalhamdi/course-orders/core/order"
	"github.com/irsalhamdi/course-orders/core/payment"
	"github.com/irsalhamdi/course-orders/core/voucher"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Upper bound of a Stripe event payload.
const maxEventBytes = 65536

func HandleCheckout(db *sqlx.DB, pay Payments) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var req CheckoutReq
		if err := web.Decode(w, r, &req); err != nil {
			return weberr.Invalid(err)
		}

		co, err := quote(ctx, db, clm.UserID, req, time.Now().UTC())
		switch {
		case errors.Is(err, course.ErrNotFound):
			return weberr.NotFound(err)
		case errors.Is(err, voucher.ErrInvalidVoucher):
			return weberr.NewError(err, err.Error(), http.StatusNotFound)
		case errors.Is(err, voucher.ErrInvalidVoucherType),
			errors.Is(err, payment.ErrPricing),
			errors.Is(err, ErrCourseEnded):
			return weberr.Invalid(err)
		case err != nil:
			return fmt.Errorf("pricing checkout: %w", err)
		}

		sess, err := pay.CreateCheckout(ctx, co)
		if err != nil {
			fields := weberr.WithFields(map[string]any{"course_id": co.CourseID})
			if errors.Is(err, payment.ErrUpstreamUnavailable) {
				return weberr.BadGateway(err, fields)
			}
			return weberr.Wrap(fmt.Errorf("creating checkout: %w", err), fields)
		}

		return web.Respond(ctx, w, sess, http.StatusOK)
	}
}

// HandleStripeWebhook materialises the order of a completed checkout. Events
// are delivered at least once; repeated deliveries create duplicate orders that
// the reconciliation sweep removes.
func HandleStripeWebhook(db *sqlx.DB, pay Payments, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot read the request body: %w", err))
		}

		c, ok, err := pay.ParseCompletion(b, r.Header.Get(payment.SignatureHeader))
		if err != nil {
			return weberr.BadRequest(err)
		}
		if !ok {
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		fields := weberr.WithFields(map[string]any{
			"event_id":       c.EventID,
			"payment_intent": c.PaymentIntent,
		})

		if _, err := Ingest(ctx, db, log, c, time.Now().UTC()); err != nil {
			return weberr.Wrap(fmt.Errorf("the checkout was paid but its order was not stored: %w", err), fields)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

// HandleCreate lets staff grant a course without an online payment. Points are
// earned on the course list price.
func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var req order.OrderNew
		if err := web.Decode(w, r, &req); err != nil {
			return weberr.Invalid(err)
		}

		c, err := course.Fetch(ctx, db, req.CourseID)
		if err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course: %w", err)
		}

		now := time.Now().UTC()
		o, err := Materialize(ctx, db, Purchase{
			ResidentID:  req.ResidentID,
			CourseID:    c.ID,
			AmountCents: c.Price.Shift(2).IntPart(),
			Date:        now,
		}, now)
		if err != nil {
			return fmt.Errorf("creating order: %w", err)
		}

		return web.Respond(ctx, w, o, http.StatusCreated)
	}
}
