package voucher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/irsalhamdi/course-orders/api/web"
	"github.com/irsalhamdi/course-orders/api/weberr"
	"github.com/irsalhamdi/course-orders/core/claims"
	"github.com/irsalhamdi/course-orders/core/course"
	"github.com/jmoiron/sqlx"
)

func HandleValidate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var req ValidateReq
		if err := web.Decode(w, r, &req); err != nil {
			return weberr.Invalid(err)
		}

		if !claims.CanAccess(ctx, req.ResidentID) {
			return weberr.Forbidden(errors.New("voucher belongs to another resident"))
		}

		c, err := course.Fetch(ctx, db, req.CourseID)
		if err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course: %w", err)
		}

		v, err := Lookup(ctx, db, req.VoucherCode, req.ResidentID)
		if err != nil {
			if errors.Is(err, ErrInvalidVoucher) {
				return weberr.NewError(err, err.Error(), http.StatusNotFound)
			}
			return fmt.Errorf("looking up voucher: %w", err)
		}

		final, err := Resolve(c.Price, &v)
		if err != nil {
			return weberr.Invalid(err)
		}

		resp := ValidateResp{
			RewardType:  v.RewardType,
			RewardValue: v.RewardValue,
			FinalPrice:  final,
		}
		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}
