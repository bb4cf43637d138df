package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/irsalhamdi/course-orders/api/web"
	"github.com/irsalhamdi/course-orders/api/weberr"
	"github.com/irsalhamdi/course-orders/core/claims"
	"github.com/jmoiron/sqlx"
)

func HandleListOwned(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		recs, err := QueryByResident(ctx, db, clm.UserID)
		if err != nil {
			return fmt.Errorf("listing point records: %w", err)
		}

		return web.Respond(ctx, w, recs, http.StatusOK)
	}
}
