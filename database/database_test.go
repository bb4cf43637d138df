package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/irsalhamdi/course-orders/database"
	"github.com/irsalhamdi/course-orders/database/dbtest"
	"github.com/jmoiron/sqlx"
)

const insertCourse = `
INSERT INTO courses (course_id, name, price, starts_at, ends_at)
VALUES ($1, 'Course', 10, now(), now())`

func countCourses(t *testing.T, db *sqlx.DB, id string) int {
	t.Helper()
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM courses WHERE course_id = $1`, id); err != nil {
		t.Fatalf("counting courses: %v", err)
	}
	return n
}

func TestTransaction(t *testing.T) {
	db := dbtest.NewDB(t, "database_test")

	t.Run("commit", func(t *testing.T) {
		err := database.Transaction(context.Background(), db, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(context.Background(), insertCourse, "committed")
			return err
		})
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
		if n := countCourses(t, db, "committed"); n != 1 {
			t.Fatalf("got %d rows, want 1", n)
		}
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := database.Transaction(context.Background(), db, func(tx sqlx.ExtContext) error {
			if _, err := tx.ExecContext(context.Background(), insertCourse, "rolled-back"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("got %v, want boom", err)
		}
		if n := countCourses(t, db, "rolled-back"); n != 0 {
			t.Fatalf("got %d rows, want 0", n)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var called bool
		err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
			called = true
			return nil
		})
		if !errors.Is(err, context.Canceled) || called {
			t.Fatalf("got %v (fn called = %v), want context.Canceled before fn runs", err, called)
		}
	})

	t.Run("cancelled mid transaction", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
			if _, err := tx.ExecContext(context.Background(), insertCourse, "abandoned"); err != nil {
				return err
			}
			cancel()
			return nil
		})
		if err == nil {
			t.Fatal("expected the commit to fail once the context is cancelled")
		}
		if n := countCourses(t, db, "abandoned"); n != 0 {
			t.Fatalf("got %d rows, want 0", n)
		}
	})
}
