package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/course-orders/api/web"
	"github.com/irsalhamdi/course-orders/api/weberr"
	"github.com/irsalhamdi/course-orders/core/claims"
	"github.com/irsalhamdi/course-orders/core/payment"
	"github.com/irsalhamdi/course-orders/validate"
	"github.com/jmoiron/sqlx"
)

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}

		o, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching order[%s]: %w", id, err)
		}

		if !claims.CanAccess(ctx, o.ResidentID) {
			return weberr.Forbidden(fmt.Errorf("order[%s] belongs to another resident", id))
		}

		return web.Respond(ctx, w, o, http.StatusOK)
	}
}

func HandleListOwned(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		orders, err := QueryByResident(ctx, db, clm.UserID)
		if err != nil {
			return fmt.Errorf("listing orders: %w", err)
		}

		return web.Respond(ctx, w, orders, http.StatusOK)
	}
}

func HandleRequestRefund(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}
		fields := weberr.WithFields(map[string]any{"order_id": id})

		o, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err, fields)
			}
			return fmt.Errorf("fetching order[%s]: %w", id, err)
		}

		if !claims.IsUser(ctx, o.ResidentID) {
			return weberr.Forbidden(fmt.Errorf("order[%s] belongs to another resident", id), fields)
		}

		o, err = RequestRefund(ctx, DBRepository{DB: db}, o, time.Now().UTC())
		if err != nil {
			return transitionError(err, fields)
		}

		return web.Respond(ctx, w, o, http.StatusOK)
	}
}

func HandleApproveRefund(db *sqlx.DB, rf Refunder, timeout time.Duration) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(fmt.Errorf("passed id is not valid: %w", err))
		}
		fields := weberr.WithFields(map[string]any{"order_id": id})

		now := func() time.Time { return time.Now().UTC() }
		o, err := ApproveRefund(ctx, DBRepository{DB: db}, rf, id, timeout, now)
		if err != nil {
			return transitionError(err, fields)
		}

		return web.Respond(ctx, w, o, http.StatusOK)
	}
}

func transitionError(err error, fields weberr.Opt) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return weberr.NotFound(err, fields)
	case errors.Is(err, ErrNotRefundable), errors.Is(err, ErrIllegalTransition):
		return weberr.Conflict(err, fields)
	case errors.Is(err, payment.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		return weberr.BadGateway(err, fields)
	}
	return weberr.Wrap(err, fields)
}
