// Package order owns the order record and the legal moves of its status.
package order

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	Pending   Status = "Pending"
	Upcoming  Status = "Upcoming"
	Completed Status = "Completed"
	Refunded  Status = "Refunded"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal order status transition")
	ErrNotRefundable     = errors.New("order is not awaiting a refund")
)

// transitions lists every allowed move. Completed and Refunded are terminal.
var transitions = map[Status][]Status{
	Upcoming: {Pending, Completed},
	Pending:  {Refunded},
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

type Order struct {
	ID            string    `json:"order_id" db:"order_id"`
	ResidentID    string    `json:"resident_id" db:"resident_id"`
	CourseID      string    `json:"course_id" db:"course_id"`
	Date          time.Time `json:"order_date" db:"order_date"`
	Status        Status    `json:"order_status" db:"order_status"`
	PaymentIntent *string   `json:"payment_intent" db:"payment_intent"`
	CreatedAt     time.Time `json:"-" db:"created_at"`
	UpdatedAt     time.Time `json:"-" db:"updated_at"`
}

type StatusUp struct {
	ID        string    `db:"order_id"`
	From      Status    `db:"from_status"`
	To        Status    `db:"to_status"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OrderNew is the staff request for an order that skips online payment.
type OrderNew struct {
	ResidentID string `json:"residentId" validate:"required"`
	CourseID   string `json:"courseId" validate:"required"`
}
