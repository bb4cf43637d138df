// Package background tracks the goroutines that outlive a request so the
// server can wait for them on shutdown.
package background

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Background runs tasks in a plain errgroup.Group. Task errors are logged,
// never returned to the group.
type Background struct {
	g   errgroup.Group
	log logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Background {
	return &Background{log: log}
}

// Add runs fn in its own goroutine. A returned error or a panic is logged and
// never reaches the caller.
func (b *Background) Add(name string, fn func() error) {
	b.g.Go(func() error {
		defer func() {
			if rec := recover(); rec != nil {
				b.log.WithField("task", name).Errorf("background task panicked: %v", rec)
			}
		}()

		if err := fn(); err != nil {
			b.log.WithField("task", name).Errorf("background task failed: %s", err)
		}
		return nil
	})
}

// Loop runs fn until ctx is done. fn is expected to return when ctx is done.
func (b *Background) Loop(ctx context.Context, name string, fn func(ctx context.Context)) {
	b.Add(name, func() error {
		b.log.WithField("task", name).Info("background loop started")
		fn(ctx)
		b.log.WithField("task", name).Info("background loop stopped")
		return nil
	})
}

// Shutdown waits for every task to finish or for ctx to expire.
func (b *Background) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- b.g.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
