// Package course reads the course records owned by the content service.
package course

import (
	"time"

	"github.com/shopspring/decimal"
)

type Course struct {
	ID          string          `json:"id" db:"course_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	StartsAt    time.Time       `json:"startsAt" db:"starts_at"`
	EndsAt      time.Time       `json:"endsAt" db:"ends_at"`
}

// Ended reports whether the course finished strictly before now.
func (c Course) Ended(now time.Time) bool {
	return c.EndsAt.Before(now)
}
