package config

import (
	"time"

	"github.com/ardanlabs/conf/v3"
)

type Config struct {
	conf.Version
	Web       Web
	Cors      Cors
	DB        DB
	Auth      Auth
	Stripe    Stripe
	Reconcile Reconcile
	Ledger    Ledger
	Rate      Rate
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type Cors struct {
	Origin string
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost:5432"`
	Name         string `conf:"default:orders"`
	MaxIdleConns int    `conf:"default:5"`
	MaxOpenConns int    `conf:"default:20"`
	DisableTLS   bool   `conf:"default:true"`
	Migrate      bool   `conf:"default:true"`
}

type Auth struct {
	Secret string `conf:"required,mask"`
}

type Stripe struct {
	APISecret     string        `conf:"required,mask"`
	WebhookSecret string        `conf:"required,mask"`
	SuccessURL    string        `conf:"default:http://localhost:3000/checkout/success"`
	CancelURL     string        `conf:"default:http://localhost:3000/checkout/cancel"`
	Currency      string        `conf:"default:usd"`
	RefundTimeout time.Duration `conf:"default:15s"`
	MaxRetries    int64         `conf:"default:2"`
	// BackendURL overrides the Stripe API endpoint, e.g. a stripe-mock instance.
	BackendURL string
}

type Reconcile struct {
	Interval time.Duration `conf:"default:5s"`
}

type Ledger struct {
	Interval time.Duration `conf:"default:30s"`
}

type Rate struct {
	Burst    int           `conf:"default:5"`
	Interval time.Duration `conf:"default:2s"`
	Expiry   time.Duration `conf:"default:10m"`
}
