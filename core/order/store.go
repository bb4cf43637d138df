package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-orders/database"
	"github.com/jmoiron/sqlx"
)

func Create(ctx context.Context, db sqlx.ExtContext, o Order) error {
	const q = `
	INSERT INTO orders
		(order_id, resident_id, course_id, order_date, order_status, payment_intent, created_at, updated_at)
	VALUES
		(:order_id, :resident_id, :course_id, :order_date, :order_status, :payment_intent, :created_at, :updated_at)`

	if _, err := database.NamedExecContext(ctx, db, q, o); err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Order, error) {
	in := struct {
		ID string `db:"order_id"`
	}{id}

	const q = `
	SELECT *
	FROM orders
	WHERE order_id = :order_id`

	var o Order
	if err := database.NamedQueryStruct(ctx, db, q, in, &o); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return Order{}, fmt.Errorf("order[%s]: %w", id, ErrNotFound)
		}
		return Order{}, fmt.Errorf("selecting order[%s]: %w", id, err)
	}
	return o, nil
}

func QueryByResident(ctx context.Context, db sqlx.ExtContext, residentID string) ([]Order, error) {
	in := struct {
		ResidentID string `db:"resident_id"`
	}{residentID}

	const q = `
	SELECT *
	FROM orders
	WHERE resident_id = :resident_id
	ORDER BY order_date DESC`

	orders := []Order{}
	if err := database.NamedQuerySlice(ctx, db, q, in, &orders); err != nil {
		return nil, fmt.Errorf("selecting orders of resident[%s]: %w", residentID, err)
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

func QueryByPaymentIntent(ctx context.Context, db sqlx.ExtContext, paymentIntent string) ([]Order, error) {
	in := struct {
		PaymentIntent string `db:"payment_intent"`
	}{paymentIntent}

	const q = `
	SELECT *
	FROM orders
	WHERE payment_intent = :payment_intent
	ORDER BY created_at, order_id`

	var orders []Order
	if err := database.NamedQuerySlice(ctx, db, q, in, &orders); err != nil {
		return nil, fmt.Errorf("selecting orders of payment[%s]: %w", paymentIntent, err)
	}
	return orders, nil
}

// UpdateStatus moves the order from up.From to up.To only if it still holds
// up.From. A lost race surfaces as ErrIllegalTransition, never as an overwrite.
func UpdateStatus(ctx context.Context, db sqlx.ExtContext, up StatusUp) error {
	if err := checkTransition(up.From, up.To); err != nil {
		return err
	}

	const q = `
	UPDATE orders
	SET order_status = :to_status, updated_at = :updated_at
	WHERE order_id = :order_id AND order_status = :from_status`

	n, err := database.NamedExecContext(ctx, db, q, up)
	if err != nil {
		return fmt.Errorf("updating status of order[%s]: %w", up.ID, err)
	}
	if n == 1 {
		return nil
	}

	cur, err := Fetch(ctx, db, up.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: order[%s] is %s, expected %s", ErrIllegalTransition, up.ID, cur.Status, up.From)
}

// QueryUpcomingEnded returns the upcoming orders whose course ended before now.
func QueryUpcomingEnded(ctx context.Context, db sqlx.ExtContext, now time.Time) ([]Order, error) {
	in := struct {
		Status Status    `db:"order_status"`
		Now    time.Time `db:"now"`
	}{Upcoming, now}

	const q = `
	SELECT o.*
	FROM orders o
	JOIN courses c ON c.course_id = o.course_id
	WHERE o.order_status = :order_status AND c.ends_at < :now
	ORDER BY o.created_at`

	var orders []Order
	if err := database.NamedQuerySlice(ctx, db, q, in, &orders); err != nil {
		return nil, fmt.Errorf("selecting ended upcoming orders: %w", err)
	}
	return orders, nil
}

// QueryDuplicatedIntents returns every payment intent held by more than one order.
func QueryDuplicatedIntents(ctx context.Context, db sqlx.ExtContext) ([]string, error) {
	const q = `
	SELECT payment_intent
	FROM orders
	WHERE payment_intent IS NOT NULL
	GROUP BY payment_intent
	HAVING COUNT(*) > 1`

	var intents []string
	if err := sqlx.SelectContext(ctx, db, &intents, q); err != nil {
		return nil, fmt.Errorf("selecting duplicated payment intents: %w", err)
	}
	return intents, nil
}

// DeleteDuplicates keeps the earliest created order of the payment intent,
// ties broken by the smallest order id, and deletes the others.
func DeleteDuplicates(ctx context.Context, db sqlx.ExtContext, paymentIntent string) (int64, error) {
	in := struct {
		PaymentIntent string `db:"payment_intent"`
	}{paymentIntent}

	const q = `
	DELETE FROM orders
	WHERE payment_intent = :payment_intent
	AND order_id <> (
		SELECT order_id
		FROM orders
		WHERE payment_intent = :payment_intent
		ORDER BY created_at, order_id
		LIMIT 1
	)`

	n, err := database.NamedExecContext(ctx, db, q, in)
	if err != nil {
		return 0, fmt.Errorf("deleting duplicates of payment[%s]: %w", paymentIntent, err)
	}
	return n, nil
}
