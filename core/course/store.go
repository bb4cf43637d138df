package course

import (
	"context"
	"errors"
	"fmt"

	"github.com/irsalhamdi/course-orders/database"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("course not found")

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Course, error) {
	in := struct {
		ID string `db:"course_id"`
	}{id}

	const q = `
	SELECT course_id, name, description, price, starts_at, ends_at
	FROM courses
	WHERE course_id = :course_id`

	var c Course
	if err := database.NamedQueryStruct(ctx, db, q, in, &c); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return Course{}, fmt.Errorf("course[%s]: %w", id, ErrNotFound)
		}
		return Course{}, fmt.Errorf("selecting course[%s]: %w", id, err)
	}
	return c, nil
}
