package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/irsalhamdi/course-orders/api/middleware"
	"github.com/irsalhamdi/course-orders/api/web"
	"github.com/irsalhamdi/course-orders/core/auth"
	"github.com/irsalhamdi/course-orders/core/ledger"
	"github.com/irsalhamdi/course-orders/core/order"
	"github.com/irsalhamdi/course-orders/core/purchase"
	"github.com/irsalhamdi/course-orders/core/voucher"
	"github.com/irsalhamdi/course-orders/rate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Payments is the payment provider as seen by the routes.
type Payments interface {
	purchase.Payments
	order.Refunder
}

type APIConfig struct {
	CorsOrigin    string
	Log           logrus.FieldLogger
	DB            *sqlx.DB
	Payments      Payments
	Verifier      *auth.Verifier
	Limiter       *rate.Limiter
	RefundTimeout time.Duration
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := auth.Authenticate(cfg.Verifier)
	admin := auth.Admin(cfg.Verifier)
	limit := middleware.RateLimit(cfg.Limiter)

	a.Handle(http.MethodPost, "/orders/checkout", purchase.HandleCheckout(cfg.DB, cfg.Payments), authen, limit)
	a.Handle(http.MethodPost, "/orders/stripe/webhook", purchase.HandleStripeWebhook(cfg.DB, cfg.Payments, cfg.Log))
	a.Handle(http.MethodPost, "/orders", purchase.HandleCreate(cfg.DB), admin)

	a.Handle(http.MethodGet, "/orders", order.HandleListOwned(cfg.DB), authen)
	a.Handle(http.MethodGet, "/orders/{id}", order.HandleShow(cfg.DB), authen)
	a.Handle(http.MethodPost, "/orders/{id}/refund", order.HandleRequestRefund(cfg.DB), authen)
	a.Handle(http.MethodPost, "/orders/{id}/refund/approve", order.HandleApproveRefund(cfg.DB, cfg.Payments, cfg.RefundTimeout), admin)

	a.Handle(http.MethodPost, "/vouchers/validate", voucher.HandleValidate(cfg.DB), authen, limit)

	a.Handle(http.MethodGet, "/points", ledger.HandleListOwned(cfg.DB), authen)

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
