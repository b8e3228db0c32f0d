// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/slievr/silverstripe-omnipay/internal/payment"
)

// Config is the full server configuration.
type Config struct {
	// ListenAddr is the HTTP bind address, e.g. ":8080".
	ListenAddr string
	// BaseURL is the externally reachable base URL used to build the
	// gateway callback endpoints. It must be absolute.
	BaseURL string
	// SQLitePath is the database file; ":memory:" keeps everything
	// in-process.
	SQLitePath string

	// ManualGateways lists gateway names whose capture requires human
	// intervention.
	ManualGateways []string
	// ManualPurchaseStatus is the status a manual gateway's purchase lands
	// on: Authorized (default) or Captured.
	ManualPurchaseStatus payment.Status

	// MaxAmount, when non-empty, installs a guard rule refusing purchases
	// above this amount. It is a govaluate-comparable number, e.g. "5000".
	MaxAmount string

	StripeSecretKey        string
	MercadoPagoAccessToken string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() (*Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:             getenv("HTTP_ADDR", ":8080"),
		BaseURL:                getenv("BASE_URL", "http://localhost:8080"),
		SQLitePath:             getenv("SQLITE_PATH", "payments.db"),
		ManualPurchaseStatus:   payment.Status(getenv("MANUAL_PURCHASE_STATUS", string(payment.StatusAuthorized))),
		MaxAmount:              os.Getenv("MAX_PURCHASE_AMOUNT"),
		StripeSecretKey:        os.Getenv("STRIPE_SECRET_KEY"),
		MercadoPagoAccessToken: os.Getenv("MERCADOPAGO_ACCESS_TOKEN"),
	}

	if raw := os.Getenv("GATEWAY_MANUAL"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.ManualGateways = append(cfg.ManualGateways, name)
			}
		}
	}

	if cfg.ManualPurchaseStatus != payment.StatusAuthorized && cfg.ManualPurchaseStatus != payment.StatusCaptured {
		return nil, fmt.Errorf("config: MANUAL_PURCHASE_STATUS must be %s or %s, got %q",
			payment.StatusAuthorized, payment.StatusCaptured, cfg.ManualPurchaseStatus)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
