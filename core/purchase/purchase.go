// Package purchase turns a paid checkout, or a staff decision, into an order
// and its ledger entry.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-orders/core/course"
	"github.com/irsalhamdi/course-orders/core/ledger"
	"github.com/irsalhamdi/course-orders/core/order"
	"github.com/irsalhamdi/course-orders/core/payment"
	"github.com/irsalhamdi/course-orders/core/voucher"
	"github.com/irsalhamdi/course-orders/database"
	"github.com/irsalhamdi/course-orders/validate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var ErrCourseEnded = errors.New("course has already ended")

// Payments is what buying a course needs from the payment provider.
type Payments interface {
	CreateCheckout(ctx context.Context, c payment.Checkout) (payment.Session, error)
	ParseCompletion(payload []byte, sigHeader string) (payment.Completion, bool, error)
}

type CheckoutReq struct {
	CourseID    string `json:"courseId" validate:"required"`
	VoucherCode string `json:"voucherCode" validate:"omitempty,max=64"`
}

// Purchase describes an order to materialise.
type Purchase struct {
	ResidentID    string
	CourseID      string
	PaymentIntent *string
	AmountCents   int64
	Date          time.Time
}

// quote prices a course for a resident, applying the voucher when one is given.
// Nothing is written.
func quote(ctx context.Context, db sqlx.ExtContext, residentID string, req CheckoutReq, now time.Time) (payment.Checkout, error) {
	c, err := course.Fetch(ctx, db, req.CourseID)
	if err != nil {
		return payment.Checkout{}, err
	}
	if c.Ended(now) {
		return payment.Checkout{}, fmt.Errorf("course[%s]: %w", c.ID, ErrCourseEnded)
	}

	var v *voucher.Voucher
	if req.VoucherCode != "" {
		found, err := voucher.Lookup(ctx, db, req.VoucherCode, residentID)
		if err != nil {
			return payment.Checkout{}, err
		}
		v = &found
	}

	price, err := voucher.Resolve(c.Price, v)
	if err != nil {
		return payment.Checkout{}, err
	}

	cents, err := payment.MinorUnits(price)
	if err != nil {
		return payment.Checkout{}, err
	}

	return payment.Checkout{
		ResidentID:  residentID,
		CourseID:    c.ID,
		CourseName:  c.Name,
		VoucherCode: req.VoucherCode,
		Amount:      cents,
	}, nil
}

// Materialize stores the order and its point record in one transaction.
func Materialize(ctx context.Context, db *sqlx.DB, p Purchase, now time.Time) (order.Order, error) {
	c, err := course.Fetch(ctx, db, p.CourseID)
	if err != nil {
		return order.Order{}, err
	}

	o := order.Order{
		ID:            validate.GenerateID(),
		ResidentID:    p.ResidentID,
		CourseID:      c.ID,
		Date:          p.Date,
		Status:        order.Upcoming,
		PaymentIntent: p.PaymentIntent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rec := ledger.NewRecord(validate.GenerateID(), o, c.Name, p.AmountCents, c.EndsAt, now)

	err = database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		if err := order.Create(ctx, tx, o); err != nil {
			return err
		}
		return ledger.Create(ctx, tx, rec)
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("storing order of resident[%s] for course[%s]: %w", p.ResidentID, p.CourseID, err)
	}
	return o, nil
}

// Ingest materialises the order of a completed checkout and then consumes its
// voucher. The voucher is only marked once the order is durable; if marking
// fails the caller reports an error so the provider redelivers. A voucher
// already consumed by another payment is logged for staff and the order kept.
func Ingest(ctx context.Context, db *sqlx.DB, log logrus.FieldLogger, c payment.Completion, now time.Time) (order.Order, error) {
	pi := c.PaymentIntent
	o, err := Materialize(ctx, db, Purchase{
		ResidentID:    c.ResidentID,
		CourseID:      c.CourseID,
		PaymentIntent: &pi,
		AmountCents:   c.AmountTotal,
		Date:          c.OccurredAt,
	}, now)
	if err != nil {
		return order.Order{}, err
	}

	if c.VoucherCode == "" {
		return o, nil
	}

	red, err := voucher.MarkUsed(ctx, db, c.VoucherCode, pi, now)
	if err != nil {
		return o, fmt.Errorf("order[%s] stored but voucher not consumed: %w", o.ID, err)
	}
	if red.Reused(pi) {
		log.WithFields(logrus.Fields{
			"order_id":       o.ID,
			"resident_id":    o.ResidentID,
			"voucher_code":   c.VoucherCode,
			"payment_intent": pi,
			"first_payment":  red.UsedBy,
		}).Warn("voucher discount applied to more than one payment")
	}
	return o, nil
}
