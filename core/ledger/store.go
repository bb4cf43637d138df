package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-orders/core/order"
	"github.com/irsalhamdi/course-orders/database"
	"github.com/jmoiron/sqlx"
)

func Create(ctx context.Context, db sqlx.ExtContext, rec Record) error {
	const q = `
	INSERT INTO point_records
		(record_id, resident_id, order_id, points, description, status, created_at, updated_at)
	VALUES
		(:record_id, :resident_id, :order_id, :points, :description, :status, :created_at, :updated_at)`

	if _, err := database.NamedExecContext(ctx, db, q, rec); err != nil {
		return fmt.Errorf("inserting point record: %w", err)
	}
	return nil
}

func QueryByResident(ctx context.Context, db sqlx.ExtContext, residentID string) ([]Record, error) {
	in := struct {
		ResidentID string `db:"resident_id"`
	}{residentID}

	const q = `
	SELECT *
	FROM point_records
	WHERE resident_id = :resident_id
	ORDER BY created_at DESC`

	var recs []Record
	if err := database.NamedQuerySlice(ctx, db, q, in, &recs); err != nil {
		return nil, fmt.Errorf("selecting point records of resident[%s]: %w", residentID, err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// State is what a record status is derived from.
type State struct {
	RecordID    string       `db:"record_id"`
	Status      Status       `db:"status"`
	OrderStatus order.Status `db:"order_status"`
	CourseEnd   time.Time    `db:"ends_at"`
}

func QueryStates(ctx context.Context, db sqlx.ExtContext) ([]State, error) {
	const q = `
	SELECT p.record_id, p.status, o.order_status, c.ends_at
	FROM point_records p
	JOIN orders o ON o.order_id = p.order_id
	JOIN courses c ON c.course_id = o.course_id`

	var states []State
	if err := sqlx.SelectContext(ctx, db, &states, q); err != nil {
		return nil, fmt.Errorf("selecting point record states: %w", err)
	}
	return states, nil
}

type StatusUp struct {
	ID        string    `db:"record_id"`
	Status    Status    `db:"status"`
	UpdatedAt time.Time `db:"updated_at"`
}

func UpdateStatus(ctx context.Context, db sqlx.ExtContext, up StatusUp) error {
	const q = `
	UPDATE point_records
	SET status = :status, updated_at = :updated_at
	WHERE record_id = :record_id`

	n, err := database.NamedExecContext(ctx, db, q, up)
	if err != nil {
		return fmt.Errorf("updating point record[%s]: %w", up.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("point record[%s]: %w", up.ID, database.ErrDBNotFound)
	}
	return nil
}
