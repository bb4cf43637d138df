package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type Store interface {
	States(ctx context.Context) ([]State, error)
	UpdateStatus(ctx context.Context, up StatusUp) error
}

type DBStore struct {
	DB sqlx.ExtContext
}

func (s DBStore) States(ctx context.Context) ([]State, error) {
	return QueryStates(ctx, s.DB)
}

func (s DBStore) UpdateStatus(ctx context.Context, up StatusUp) error {
	return UpdateStatus(ctx, s.DB, up)
}

// Synchronizer recomputes every record status from the current order and
// course state. Running it again without state changes writes nothing.
type Synchronizer struct {
	Store    Store
	Now      func() time.Time
	Interval time.Duration
	Log      logrus.FieldLogger
}

// Sync returns how many records changed status. A record that fails to update
// is logged and left for the next run.
func (s *Synchronizer) Sync(ctx context.Context) (int, error) {
	states, err := s.Store.States(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading point record states: %w", err)
	}

	now := s.Now()
	changed := 0
	for _, st := range states {
		want := StatusFor(st.OrderStatus, st.CourseEnd, now)
		if want == st.Status {
			continue
		}

		up := StatusUp{ID: st.RecordID, Status: want, UpdatedAt: now}
		if err := s.Store.UpdateStatus(ctx, up); err != nil {
			s.Log.WithFields(logrus.Fields{
				"record_id": st.RecordID,
				"status":    want,
			}).Errorf("syncing point record: %s", err)
			continue
		}
		changed++
	}
	return changed, nil
}

// Run syncs every Interval until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) {
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

func (s *Synchronizer) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			s.Log.Errorf("ledger sync panicked: %v", rec)
		}
	}()

	n, err := s.Sync(ctx)
	if err != nil {
		s.Log.Errorf("ledger sync: %s", err)
		return
	}
	if n > 0 {
		s.Log.WithField("records", n).Info("ledger synced")
	}
}
