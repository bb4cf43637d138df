package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/course-orders/api"
	"github.com/irsalhamdi/course-orders/api/background"
	"github.com/irsalhamdi/course-orders/config"
	"github.com/irsalhamdi/course-orders/core/auth"
	"github.com/irsalhamdi/course-orders/core/ledger"
	"github.com/irsalhamdi/course-orders/core/payment"
	"github.com/irsalhamdi/course-orders/core/reconcile"
	"github.com/irsalhamdi/course-orders/database"
	"github.com/irsalhamdi/course-orders/rate"
	"github.com/sirupsen/logrus"
)

var build = "develop"

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	const prefix = "ORDERS"
	cfg := config.Config{
		Version: conf.Version{
			Build: build,
			Desc:  "course order lifecycle and payment reconciliation",
		},
	}
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	logger.Infof("startup config:\n%s", out)

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}
	defer db.Close()

	if cfg.DB.Migrate {
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate the database: %w", err)
		}
	}

	strp := payment.NewStripe(cfg.Stripe, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	bg := background.New(logger)

	limiter := rate.NewLimiter(cfg.Rate.Burst, cfg.Rate.Expiry, rate.Every(cfg.Rate.Interval))
	bg.Loop(ctx, "rate-limiter-eviction", limiter.Run)

	sched := &reconcile.Scheduler{
		Store:    reconcile.DBStore{DB: db},
		Now:      func() time.Time { return time.Now().UTC() },
		Interval: cfg.Reconcile.Interval,
		Log:      logger.WithField("task", "reconcile"),
	}
	bg.Loop(ctx, "reconcile", sched.Run)

	syncer := &ledger.Synchronizer{
		Store:    ledger.DBStore{DB: db},
		Now:      func() time.Time { return time.Now().UTC() },
		Interval: cfg.Ledger.Interval,
		Log:      logger.WithField("task", "ledger"),
	}
	bg.Loop(ctx, "ledger", syncer.Run)

	mux := api.APIMux(api.APIConfig{
		CorsOrigin:    cfg.Cors.Origin,
		Log:           logger,
		DB:            db,
		Payments:      strp,
		Verifier:      auth.NewVerifier(cfg.Auth.Secret),
		Limiter:       limiter,
		RefundTimeout: cfg.Stripe.RefundTimeout,
	})

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if derr := drain(ctx, stop, bg); derr != nil {
			logger.Error(derr)
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			if derr := drain(ctx, stop, bg); derr != nil {
				logger.Error(derr)
			}
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		return drain(ctx, stop, bg)
	}
}

// drain stops the background loops and waits for them before the database is
// closed.
func drain(ctx context.Context, stop context.CancelFunc, bg *background.Background) error {
	stop()
	if err := bg.Shutdown(ctx); err != nil {
		return fmt.Errorf("could not complete all background tasks: %w", err)
	}
	return nil
}
