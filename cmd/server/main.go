package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/slievr/silverstripe-omnipay/internal/config"
	"github.com/slievr/silverstripe-omnipay/internal/endpoint"
	"github.com/slievr/silverstripe-omnipay/internal/gateway"
	"github.com/slievr/silverstripe-omnipay/internal/gateway/circuitbreaker"
	"github.com/slievr/silverstripe-omnipay/internal/gateway/mercadopago"
	"github.com/slievr/silverstripe-omnipay/internal/gateway/mock"
	"github.com/slievr/silverstripe-omnipay/internal/gateway/stripe"
	"github.com/slievr/silverstripe-omnipay/internal/logging"
	"github.com/slievr/silverstripe-omnipay/internal/metrics"
	"github.com/slievr/silverstripe-omnipay/internal/persistence/sqlite"
	"github.com/slievr/silverstripe-omnipay/internal/policy"
	"github.com/slievr/silverstripe-omnipay/internal/purchase"
	"github.com/slievr/silverstripe-omnipay/internal/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewJSONLogger(os.Stdout)

	shutdownTracing, err := initTracing()
	if err != nil {
		return err
	}
	defer shutdownTracing()

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := sqlite.Migrate(db); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	payments := sqlite.NewPaymentRepository(db)
	messages := metrics.InstrumentLog(sqlite.NewMessageLog(db), m)

	registry := gateway.NewRegistry()
	registry.Register(mock.New("mock"))
	if cfg.StripeSecretKey != "" {
		registry.Register(stripe.New(cfg.StripeSecretKey, nil))
	}
	if cfg.MercadoPagoAccessToken != "" {
		mp, err := mercadopago.New(cfg.MercadoPagoAccessToken)
		if err != nil {
			return err
		}
		registry.Register(mp)
	}
	for _, name := range cfg.ManualGateways {
		// Manual gateways never talk to a processor; the mock adapter's
		// canned approval stands in for the offline capture step.
		registry.Register(mock.New(name))
		registry.SetManual(name, true)
	}

	resolver, err := endpoint.NewBaseURLResolver(cfg.BaseURL)
	if err != nil {
		return err
	}

	opts := []purchase.Option{
		purchase.WithLogger(logger),
		purchase.WithMetrics(m),
		purchase.WithBreaker(circuitbreaker.New()),
		purchase.WithManualPurchaseStatus(cfg.ManualPurchaseStatus),
	}
	if cfg.MaxAmount != "" {
		enforcer, err := policy.NewEnforcer([]policy.Rule{{
			ID:         "max-amount",
			Expression: fmt.Sprintf("amount > %s", cfg.MaxAmount),
			Decision:   policy.Decision{Allow: false, Reason: "Amount exceeds the configured limit"},
		}})
		if err != nil {
			return err
		}
		opts = append(opts, purchase.WithPolicy(enforcer))
	}

	service := purchase.NewService(payments, messages, registry, resolver, opts...)

	srv, err := server.New(service, payments, messages, registry, reg, logger)
	if err != nil {
		return err
	}

	logger.Info("server starting", map[string]any{"addr": cfg.ListenAddr, "baseUrl": cfg.BaseURL})
	return srv.Router().Run(cfg.ListenAddr)
}

func initTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("shutting down tracer provider: %v", err)
		}
	}, nil
}
