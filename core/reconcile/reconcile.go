// Package reconcile runs the periodic sweeps that bring orders back in line
// with course schedules and with at-least-once payment delivery.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-orders/core/order"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	UpcomingEnded(ctx context.Context, now time.Time) ([]order.Order, error)
	UpdateStatus(ctx context.Context, up order.StatusUp) error
	DuplicatedIntents(ctx context.Context) ([]string, error)
	DeleteDuplicates(ctx context.Context, paymentIntent string) (int64, error)
}

type DBStore struct {
	DB sqlx.ExtContext
}

func (s DBStore) UpcomingEnded(ctx context.Context, now time.Time) ([]order.Order, error) {
	return order.QueryUpcomingEnded(ctx, s.DB, now)
}

func (s DBStore) UpdateStatus(ctx context.Context, up order.StatusUp) error {
	return order.UpdateStatus(ctx, s.DB, up)
}

func (s DBStore) DuplicatedIntents(ctx context.Context) ([]string, error) {
	return order.QueryDuplicatedIntents(ctx, s.DB)
}

func (s DBStore) DeleteDuplicates(ctx context.Context, paymentIntent string) (int64, error) {
	return order.DeleteDuplicates(ctx, s.DB, paymentIntent)
}

// Report counts what one sweep did.
type Report struct {
	Completed         int
	CompleteFailures  int
	DuplicateGroups   int
	Removed           int64
	DuplicateFailures int
}

type Scheduler struct {
	Store    Store
	Now      func() time.Time
	Interval time.Duration
	Log      logrus.FieldLogger
}

// Sweep runs the completion and duplicate sweeps concurrently. Failures on a
// single order or payment are logged and skipped. An error is returned only
// when a sweep could not list its work; the other sweep still runs.
func (s *Scheduler) Sweep(ctx context.Context) (Report, error) {
	var (
		rep Report
		g   errgroup.Group
	)
	now := s.Now()

	g.Go(guard("completion", func() error {
		return s.complete(ctx, now, &rep)
	}))
	g.Go(guard("duplicate", func() error {
		return s.dedupe(ctx, &rep)
	}))

	err := g.Wait()
	return rep, err
}

// guard turns a panic in a sweep goroutine into its error.
func guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%s sweep panicked: %v", name, rec)
			}
		}()
		return fn()
	}
}

func (s *Scheduler) complete(ctx context.Context, now time.Time, rep *Report) error {
	orders, err := s.Store.UpcomingEnded(ctx, now)
	if err != nil {
		return fmt.Errorf("listing ended upcoming orders: %w", err)
	}

	for _, o := range orders {
		up := order.StatusUp{
			ID:        o.ID,
			From:      order.Upcoming,
			To:        order.Completed,
			UpdatedAt: now,
		}
		if err := s.Store.UpdateStatus(ctx, up); err != nil {
			s.Log.WithField("order_id", o.ID).Errorf("completing order: %s", err)
			rep.CompleteFailures++
			continue
		}
		rep.Completed++
	}
	return nil
}

func (s *Scheduler) dedupe(ctx context.Context, rep *Report) error {
	intents, err := s.Store.DuplicatedIntents(ctx)
	if err != nil {
		return fmt.Errorf("listing duplicated payments: %w", err)
	}

	rep.DuplicateGroups = len(intents)
	for _, pi := range intents {
		n, err := s.Store.DeleteDuplicates(ctx, pi)
		if err != nil {
			s.Log.WithField("payment_intent", pi).Errorf("removing duplicate orders: %s", err)
			rep.DuplicateFailures++
			continue
		}
		if n > 0 {
			s.Log.WithFields(logrus.Fields{
				"payment_intent": pi,
				"removed":        n,
			}).Warn("removed duplicate orders")
		}
		rep.Removed += n
	}
	return nil
}

// Run sweeps every Interval until ctx is done. A failing or panicking sweep
// never stops the next one.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			s.Log.Errorf("reconciliation sweep panicked: %v", rec)
		}
	}()

	rep, err := s.Sweep(ctx)
	if err != nil {
		s.Log.Errorf("reconciliation sweep: %s", err)
	}
	if rep.Completed > 0 || rep.Removed > 0 {
		s.Log.WithFields(logrus.Fields{
			"completed": rep.Completed,
			"removed":   rep.Removed,
		}).Info("reconciliation sweep")
	}
}
