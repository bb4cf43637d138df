// Package dbtest starts a disposable Postgres container for tests that need a
// real database.
package dbtest

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/irsalhamdi/course-orders/config"
	"github.com/irsalhamdi/course-orders/database"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const (
	image = "postgres"
	tag   = "15-alpine"
)

// NewDB returns a migrated database running in a fresh container. The test is
// skipped when no Docker daemon is reachable.
func NewDB(t *testing.T, name string) *sqlx.DB {
	t.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") != "" {
		t.Skip("docker tests disabled")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: image,
		Tag:        tag,
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=postgres",
			"POSTGRES_DB=" + name,
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("purging postgres container: %v", err)
		}
	})

	cfg := config.DB{
		User:         "postgres",
		Password:     "postgres",
		Host:         resource.GetHostPort("5432/tcp"),
		Name:         name,
		MaxIdleConns: 2,
		MaxOpenConns: 10,
		DisableTLS:   true,
	}

	var db *sqlx.DB
	err = pool.Retry(func() error {
		var err error
		if db, err = database.Open(cfg); err != nil {
			return err
		}
		return db.Ping()
	})
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating database: %v", err)
	}

	return db
}

// SeedCourse inserts a course owned by the content collaborator.
func SeedCourse(t *testing.T, db *sqlx.DB, id string, price string, endsAt time.Time) {
	t.Helper()

	const q = `
	INSERT INTO courses (course_id, name, description, price, starts_at, ends_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

	startsAt := endsAt.Add(-30 * 24 * time.Hour)
	name := fmt.Sprintf("Course %s", id)
	if _, err := db.Exec(q, id, name, "seeded course", price, startsAt, endsAt); err != nil {
		t.Fatalf("seeding course[%s]: %v", id, err)
	}
}

// SeedVoucher inserts an unused voucher owned by the rewards collaborator.
func SeedVoucher(t *testing.T, db *sqlx.DB, code, residentID, rewardType, value string) {
	t.Helper()

	const q = `
	INSERT INTO redeem_rewards (voucher_code, resident_id, reward_type, reward_value)
	VALUES ($1, $2, $3, $4)`

	if _, err := db.Exec(q, code, residentID, rewardType, value); err != nil {
		t.Fatalf("seeding voucher[%s]: %v", code, err)
	}
}
