// Package server exposes the payment lifecycle over HTTP. The payment
// routes drive the orchestrator; the gateway routes are the callback legs
// advertised to gateways as return, cancel and notify URLs.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/slievr/silverstripe-omnipay/internal/gateway"
	"github.com/slievr/silverstripe-omnipay/internal/logging"
	"github.com/slievr/silverstripe-omnipay/internal/message"
	"github.com/slievr/silverstripe-omnipay/internal/monitor"
	"github.com/slievr/silverstripe-omnipay/internal/payment"
	"github.com/slievr/silverstripe-omnipay/internal/purchase"
	"github.com/slievr/silverstripe-omnipay/internal/reporting"
)

// Server holds the handler dependencies.
type Server struct {
	service  *purchase.Service
	payments payment.Repository
	messages message.Log
	registry *gateway.Registry
	reporter *reporting.Reporter
	log      logging.Logger

	purchaseContract *monitor.ContractMonitor
	createContract   *monitor.ContractMonitor
	gatherer         prometheus.Gatherer
}

func New(
	service *purchase.Service,
	payments payment.Repository,
	messages message.Log,
	registry *gateway.Registry,
	gatherer prometheus.Gatherer,
	log logging.Logger,
) (*Server, error) {
	purchaseContract, err := monitor.NewContractMonitor([]byte(purchaseSchema))
	if err != nil {
		return nil, err
	}
	createContract, err := monitor.NewContractMonitor([]byte(createPaymentSchema))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Server{
		service:          service,
		payments:         payments,
		messages:         messages,
		registry:         registry,
		reporter:         reporting.NewReporter(messages),
		log:              log,
		purchaseContract: purchaseContract,
		createContract:   createContract,
		gatherer:         gatherer,
	}, nil
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("silverstripe-omnipay"))

	router.POST("/payments", s.createPayment)
	router.GET("/payments/:identifier", s.getPayment)
	router.POST("/payments/:identifier/purchase", s.purchase)
	router.GET("/payments/:identifier/messages", s.listMessages)
	router.GET("/payments/:identifier/summary", s.summary)

	// The callback legs handed to gateways. Payers return via GET; gateway
	// notifications arrive via POST.
	router.GET("/gateway/:identifier/complete", s.completePurchase)
	router.POST("/gateway/:identifier/complete", s.completePurchase)
	router.POST("/gateway/:identifier/notify", s.completePurchase)
	router.GET("/gateway/:identifier/cancel", s.cancelPurchase)

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return router
}
