package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-orders/database"
	"github.com/jmoiron/sqlx"
)

// Lookup returns the voucher only when it belongs to residentID and is unused.
func Lookup(ctx context.Context, db sqlx.ExtContext, code string, residentID string) (Voucher, error) {
	in := struct {
		Code string `db:"voucher_code"`
	}{code}

	const q = `
	SELECT voucher_code, resident_id, reward_type, reward_value, used, used_at
	FROM redeem_rewards
	WHERE voucher_code = :voucher_code`

	var v Voucher
	if err := database.NamedQueryStruct(ctx, db, q, in, &v); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return Voucher{}, ErrInvalidVoucher
		}
		return Voucher{}, fmt.Errorf("selecting voucher: %w", err)
	}

	if v.ResidentID != residentID || v.Used {
		return Voucher{}, ErrInvalidVoucher
	}
	return v, nil
}

// Redemption is the outcome of MarkUsed. UsedBy is the payment intent that
// consumed the voucher first.
type Redemption struct {
	AlreadyUsed bool   `db:"already_used"`
	UsedBy      string `db:"used_by"`
}

// Reused reports whether a payment other than paymentIntent consumed the
// voucher first.
func (r Redemption) Reused(paymentIntent string) bool {
	return r.AlreadyUsed && r.UsedBy != paymentIntent
}

// MarkUsed flags the voucher as consumed by paymentIntent. Marking an already
// used voucher keeps the first consumer so webhook redeliveries can repeat it.
func MarkUsed(ctx context.Context, db sqlx.ExtContext, code string, paymentIntent string, now time.Time) (Redemption, error) {
	in := struct {
		Code          string    `db:"voucher_code"`
		PaymentIntent string    `db:"payment_intent"`
		Now           time.Time `db:"now"`
	}{code, paymentIntent, now}

	const q = `
	WITH prev AS (
		SELECT voucher_code, used
		FROM redeem_rewards
		WHERE voucher_code = :voucher_code
		FOR UPDATE
	)
	UPDATE redeem_rewards r
	SET used = true,
		used_at = COALESCE(r.used_at, :now),
		used_by = COALESCE(r.used_by, :payment_intent)
	FROM prev
	WHERE r.voucher_code = prev.voucher_code
	RETURNING prev.used AS already_used, COALESCE(r.used_by, '') AS used_by`

	var red Redemption
	if err := database.NamedQueryStruct(ctx, db, q, in, &red); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return Redemption{}, fmt.Errorf("voucher[%s]: %w", code, err)
		}
		return Redemption{}, fmt.Errorf("marking voucher used: %w", err)
	}
	return red, nil
}
