// Package metrics exposes prometheus instrumentation for the payment
// lifecycle.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/slievr/silverstripe-omnipay/internal/message"
)

// Metrics holds the collectors the orchestrator and audit trail report to.
type Metrics struct {
	PurchasesTotal        *prometheus.CounterVec
	GatewayErrorsTotal    *prometheus.CounterVec
	MessagesRecordedTotal *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PurchasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_purchases_total",
			Help: "Purchase operations by gateway and normalized outcome.",
		}, []string{"gateway", "outcome"}),
		GatewayErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_gateway_errors_total",
			Help: "Gateway send failures (network errors, open circuits).",
		}, []string{"gateway"}),
		MessagesRecordedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_messages_recorded_total",
			Help: "Audit trail entries recorded, by message type.",
		}, []string{"type"}),
	}
}

// InstrumentLog decorates a message log so every recorded entry is counted.
func InstrumentLog(next message.Log, m *Metrics) message.Log {
	return &instrumentedLog{next: next, metrics: m}
}

type instrumentedLog struct {
	next    message.Log
	metrics *Metrics
}

func (l *instrumentedLog) Record(ctx context.Context, t message.Type, paymentRef string, payload any) error {
	if err := l.next.Record(ctx, t, paymentRef, payload); err != nil {
		return err
	}
	l.metrics.MessagesRecordedTotal.WithLabelValues(string(t)).Inc()
	return nil
}

func (l *instrumentedLog) ListByPaymentRef(ctx context.Context, paymentRef string) ([]message.Message, error) {
	return l.next.ListByPaymentRef(ctx, paymentRef)
}
