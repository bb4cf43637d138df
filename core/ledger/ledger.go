// Package ledger keeps the loyalty points earned by each order. A record's
// status is never set by hand: it is derived from its order and course.
package ledger

import (
	"fmt"
	"time"

	"github.com/irsalhamdi/course-orders/core/order"
)

type Status string

const (
	Pending  Status = "pending"
	Awarded  Status = "awarded"
	Refunded Status = "refunded"
)

type Record struct {
	ID          string    `json:"record_id" db:"record_id"`
	ResidentID  string    `json:"resident_id" db:"resident_id"`
	OrderID     string    `json:"order_id" db:"order_id"`
	Points      int64     `json:"points" db:"points"`
	Description string    `json:"description" db:"description"`
	Status      Status    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"-" db:"created_at"`
	UpdatedAt   time.Time `json:"-" db:"updated_at"`
}

// StatusFor derives a record status from its order status and course end.
func StatusFor(orderStatus order.Status, courseEnd time.Time, now time.Time) Status {
	switch {
	case orderStatus == order.Refunded:
		return Refunded
	case courseEnd.Before(now):
		return Awarded
	default:
		return Pending
	}
}

// PointsFor returns one point per whole currency unit charged.
func PointsFor(amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	return amountCents / 100
}

// NewRecord builds the ledger entry of a freshly created order.
func NewRecord(id string, o order.Order, courseName string, amountCents int64, courseEnd time.Time, now time.Time) Record {
	return Record{
		ID:          id,
		ResidentID:  o.ResidentID,
		OrderID:     o.ID,
		Points:      PointsFor(amountCents),
		Description: fmt.Sprintf("Purchase of %s", courseName),
		Status:      StatusFor(o.Status, courseEnd, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
