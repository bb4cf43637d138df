package order

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Repository is the persistence the status transitions need.
type Repository interface {
	Fetch(ctx context.Context, id string) (Order, error)
	UpdateStatus(ctx context.Context, up StatusUp) error
}

// Refunder returns the money of a payment intent to the payer.
type Refunder interface {
	Refund(ctx context.Context, paymentIntent string) error
}

type DBRepository struct {
	DB sqlx.ExtContext
}

func (r DBRepository) Fetch(ctx context.Context, id string) (Order, error) {
	return Fetch(ctx, r.DB, id)
}

func (r DBRepository) UpdateStatus(ctx context.Context, up StatusUp) error {
	return UpdateStatus(ctx, r.DB, up)
}

// RequestRefund moves an upcoming order to Pending. Whether the course may
// still be refunded is decided by the caller.
func RequestRefund(ctx context.Context, repo Repository, o Order, now time.Time) (Order, error) {
	up := StatusUp{
		ID:        o.ID,
		From:      o.Status,
		To:        Pending,
		UpdatedAt: now,
	}
	if err := checkTransition(up.From, up.To); err != nil {
		return Order{}, fmt.Errorf("order[%s]: %w", o.ID, err)
	}

	if err := repo.UpdateStatus(ctx, up); err != nil {
		return Order{}, err
	}

	o.Status = Pending
	o.UpdatedAt = now
	return o, nil
}

// ApproveRefund refunds the payment of a pending order and only then marks it
// Refunded. A failed or timed out provider call leaves the order Pending.
// Orders created without a payment have nothing to give back and move
// straight to Refunded.
func ApproveRefund(ctx context.Context, repo Repository, rf Refunder, id string, timeout time.Duration, now func() time.Time) (Order, error) {
	o, err := repo.Fetch(ctx, id)
	if err != nil {
		return Order{}, err
	}

	if o.Status != Pending {
		return Order{}, fmt.Errorf("order[%s] is %s: %w", id, o.Status, ErrNotRefundable)
	}

	if o.PaymentIntent != nil {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		err := rf.Refund(rctx, *o.PaymentIntent)
		cancel()
		if err != nil {
			return Order{}, fmt.Errorf("refunding order[%s]: %w", id, err)
		}
	}

	up := StatusUp{
		ID:        o.ID,
		From:      Pending,
		To:        Refunded,
		UpdatedAt: now(),
	}
	if err := repo.UpdateStatus(ctx, up); err != nil {
		return Order{}, fmt.Errorf("order[%s] was refunded by the provider: %w", id, err)
	}

	o.Status = Refunded
	o.UpdatedAt = up.UpdatedAt
	return o, nil
}
