// Package purchase drives a payment through its lifecycle against an
// external gateway: purchase, completion after an off-site step, and
// cancellation. It reconciles the caller's input, the persisted payment
// record and the gateway's response into one committed state transition,
// recording every gateway interaction in the audit trail.
package purchase

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/slievr/silverstripe-omnipay/internal/endpoint"
	"github.com/slievr/silverstripe-omnipay/internal/gateway"
	"github.com/slievr/silverstripe-omnipay/internal/gateway/circuitbreaker"
	"github.com/slievr/silverstripe-omnipay/internal/logging"
	"github.com/slievr/silverstripe-omnipay/internal/message"
	"github.com/slievr/silverstripe-omnipay/internal/metrics"
	"github.com/slievr/silverstripe-omnipay/internal/payment"
	"github.com/slievr/silverstripe-omnipay/internal/policy"
)

// ErrInvalidState means the operation's status precondition failed. Nothing
// was sent to the gateway and nothing was recorded.
var ErrInvalidState = errors.New("purchase: payment is not in a valid state for this operation")

const defaultDescription = "Online Order"

// Data is the caller-supplied input to a lifecycle operation. It is a
// closed, whitelisted set: amount, currency and callback URLs have no field
// here on purpose — they always come from the payment record.
type Data struct {
	TransactionID string
	ClientIP      string
	Card          *gateway.Card
	Metadata      map[string]string
}

// CapturedHook is notified synchronously, exactly once, after a payment's
// transition to Captured has been committed.
type CapturedHook func(ctx context.Context, p *payment.Payment, resp *Response)

// Service is the purchase orchestrator.
type Service struct {
	payments  payment.Repository
	messages  message.Log
	registry  *gateway.Registry
	endpoints endpoint.Resolver

	breaker  *circuitbreaker.CircuitBreaker
	enforcer *policy.Enforcer
	metrics  *metrics.Metrics
	log      logging.Logger
	hooks    []CapturedHook

	manualPurchaseStatus payment.Status
	tracer               trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithBreaker guards gateway sends with a circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Service) { s.breaker = cb }
}

// WithPolicy installs purchase guard rules evaluated before any gateway
// call.
func WithPolicy(e *policy.Enforcer) Option {
	return func(s *Service) { s.enforcer = e }
}

// WithMetrics installs prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger replaces the default no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithCapturedHook appends an observer for the Captured transition.
func WithCapturedHook(h CapturedHook) Option {
	return func(s *Service) { s.hooks = append(s.hooks, h) }
}

// WithManualPurchaseStatus chooses whether a manual gateway's purchase
// lands on Authorized or Captured. Authorized is the default.
func WithManualPurchaseStatus(st payment.Status) Option {
	return func(s *Service) { s.manualPurchaseStatus = st }
}

func NewService(
	payments payment.Repository,
	messages message.Log,
	registry *gateway.Registry,
	endpoints endpoint.Resolver,
	opts ...Option,
) *Service {
	if payments == nil {
		panic("payment repository cannot be nil")
	}
	if messages == nil {
		panic("message log cannot be nil")
	}
	if registry == nil {
		panic("gateway registry cannot be nil")
	}
	if endpoints == nil {
		panic("endpoint resolver cannot be nil")
	}
	s := &Service{
		payments:             payments,
		messages:             messages,
		registry:             registry,
		endpoints:            endpoints,
		log:                  logging.Nop{},
		manualPurchaseStatus: payment.StatusAuthorized,
		tracer:               otel.Tracer("purchase"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.manualPurchaseStatus != payment.StatusAuthorized && s.manualPurchaseStatus != payment.StatusCaptured {
		panic(fmt.Sprintf("manual purchase status must be Authorized or Captured, got %q", s.manualPurchaseStatus))
	}
	return s
}

// Purchase attempts to take payment for the identified record. The record
// must exist and be in the Created state; otherwise nothing happens and
// ErrInvalidState is returned. Amount, currency and callback URLs come from
// the record, never from data. Gateway failures come back as an error
// Response; only storage failures and precondition violations are returned
// as errors.
func (s *Service) Purchase(ctx context.Context, identifier string, data Data) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "Purchase",
		trace.WithAttributes(attribute.String("payment.identifier", identifier)))
	defer span.End()

	p, err := s.payments.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if p.Status != payment.StatusCreated {
		s.log.Info("purchase refused", map[string]any{"payment": identifier, "status": string(p.Status)})
		return nil, fmt.Errorf("%w: purchase requires status %s, have %s", ErrInvalidState, payment.StatusCreated, p.Status)
	}

	adapter, err := s.registry.Resolve(p.Gateway)
	if err != nil {
		return nil, err
	}

	if resp, refused, err := s.checkPolicy(p); err != nil {
		return nil, err
	} else if refused {
		s.count(p.Gateway, OutcomeError)
		return resp, nil
	}

	fields := s.buildFields(p, data, true)

	req, err := adapter.Purchase(fields)
	if err != nil {
		return s.purchaseFailure(ctx, p, err)
	}

	if err := s.messages.Record(ctx, message.PurchaseRequest, p.Identifier, auditRequest(fields)); err != nil {
		return nil, err
	}

	resp, sendErr := s.send(ctx, p.Gateway, req)
	if sendErr != nil {
		return s.purchaseFailure(ctx, p, sendErr)
	}

	// Persist the correlation data first: the completion leg depends on it
	// even when the payer is still off-site.
	if ref := resp.Reference(); len(ref) > 0 {
		p.GatewayReference = payment.Reference(ref)
		if err := s.payments.SaveReference(ctx, p.Identifier, p.GatewayReference); err != nil {
			return nil, err
		}
	}

	var out *Response
	switch {
	case s.registry.IsManual(p.Gateway) && s.manualPurchaseStatus == payment.StatusAuthorized:
		out, err = s.commitBranch(ctx, p, resp, message.AuthorizedResponse, payment.StatusAuthorized,
			successResponse("Manual payment authorised", resp))
	case resp.Successful():
		out, err = s.commitBranch(ctx, p, resp, message.PurchasedResponse, payment.StatusCaptured,
			successResponse("Payment successful", resp))
	case resp.Redirect():
		out, err = s.commitBranch(ctx, p, resp, message.PurchaseRedirectResponse, payment.StatusAuthorized,
			redirectResponse("Redirecting to gateway", resp))
	default:
		// Declined: recorded, surfaced, no status change.
		if err := s.messages.Record(ctx, message.PurchaseError, p.Identifier, auditResponse(resp)); err != nil {
			return nil, err
		}
		out = errorResponse(fmt.Sprintf("Error (%s): %s", resp.Code(), resp.Message()), resp)
	}
	if err != nil {
		return nil, err
	}

	s.count(p.Gateway, out.Outcome)
	s.log.Info("purchase finished", map[string]any{
		"payment": p.Identifier, "gateway": p.Gateway, "outcome": string(out.Outcome), "status": string(p.Status),
	})
	return out, nil
}

// CompletePurchase finalises a payment after the off-site step, driven by
// the payer returning or by an asynchronous gateway notification. Delivery
// is at-least-once, so an already-captured payment yields a success
// response without a second gateway call.
func (s *Service) CompletePurchase(ctx context.Context, identifier string, data Data) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "CompletePurchase",
		trace.WithAttributes(attribute.String("payment.identifier", identifier)))
	defer span.End()

	p, err := s.payments.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if p.Status == payment.StatusCaptured {
		return successResponse("Payment already captured", nil), nil
	}
	if p.Status == payment.StatusVoid {
		return nil, fmt.Errorf("%w: payment is void", ErrInvalidState)
	}

	adapter, err := s.registry.Resolve(p.Gateway)
	if err != nil {
		return nil, err
	}

	// Correlation data comes from the record, not from caller input; the
	// caller cannot forge it.
	fields := s.buildFields(p, data, false)
	fields.Reference = p.GatewayReference

	req, err := adapter.CompletePurchase(fields)
	if err != nil {
		return s.completeFailure(ctx, p, err)
	}

	if err := s.messages.Record(ctx, message.CompletePurchaseRequest, p.Identifier, auditRequest(fields)); err != nil {
		return nil, err
	}

	resp, sendErr := s.send(ctx, p.Gateway, req)
	if sendErr != nil {
		return s.completeFailure(ctx, p, sendErr)
	}

	if !resp.Successful() {
		if err := s.messages.Record(ctx, message.CompletePurchaseError, p.Identifier, auditResponse(resp)); err != nil {
			return nil, err
		}
		return errorResponse(fmt.Sprintf("Error (%s): %s", resp.Code(), resp.Message()), resp), nil
	}

	if err := s.messages.Record(ctx, message.PurchasedResponse, p.Identifier, auditResponse(resp)); err != nil {
		return nil, err
	}

	committed, err := s.payments.UpdateStatusFrom(ctx, p.Identifier, p.Status, payment.StatusCaptured)
	if err != nil {
		return nil, err
	}
	if !committed {
		// A concurrent notification captured it first.
		return successResponse("Payment already captured", resp), nil
	}
	p.Status = payment.StatusCaptured

	out := successResponse("Payment successful", resp)
	s.notifyCaptured(ctx, p, out)

	// Some redirect protocols require echoing a confirmation URL back.
	if confirmer, ok := resp.(gateway.Confirmer); ok {
		if err := confirmer.Confirm(ctx, s.endpoints.URL(endpoint.ActionComplete, p.Identifier)); err != nil {
			s.log.Error("confirmation acknowledgment failed", map[string]any{
				"payment": p.Identifier, "gateway": p.Gateway, "error": err.Error(),
			})
		}
	}

	s.count(p.Gateway, out.Outcome)
	return out, nil
}

// CancelPurchase marks the payment void without contacting the gateway.
// Only non-terminal payments can be voided; a gateway-side void is a
// deliberate omission recorded in the audit note.
func (s *Service) CancelPurchase(ctx context.Context, identifier string) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "CancelPurchase",
		trace.WithAttributes(attribute.String("payment.identifier", identifier)))
	defer span.End()

	p, err := s.payments.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !payment.CanTransition(p.Status, payment.StatusVoid) {
		return nil, fmt.Errorf("%w: cannot void a %s payment", ErrInvalidState, p.Status)
	}

	if err := s.messages.Record(ctx, message.VoidRequest, p.Identifier, map[string]string{
		"message": "The payment was cancelled.",
	}); err != nil {
		return nil, err
	}

	committed, err := s.payments.UpdateStatusFrom(ctx, p.Identifier, p.Status, payment.StatusVoid)
	if err != nil {
		return nil, err
	}
	if !committed {
		return nil, fmt.Errorf("%w: payment status changed concurrently", ErrInvalidState)
	}
	p.Status = payment.StatusVoid

	s.log.Info("payment cancelled", map[string]any{"payment": p.Identifier, "gateway": p.Gateway})
	return successResponse("The payment was cancelled.", nil), nil
}

// buildFields merges caller data with the authoritative record fields.
// Amount, currency and the callback URLs are always taken from the record.
func (s *Service) buildFields(p *payment.Payment, data Data, withURLs bool) gateway.Fields {
	transactionID := data.TransactionID
	if transactionID == "" {
		transactionID = p.Identifier
	}

	fields := gateway.Fields{
		TransactionID: transactionID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Description:   defaultDescription,
		ClientIP:      data.ClientIP,
		Card:          data.Card,
		Metadata:      data.Metadata,
	}
	if withURLs {
		fields.ReturnURL = s.endpoints.URL(endpoint.ActionComplete, p.Identifier)
		fields.CancelURL = s.endpoints.URL(endpoint.ActionCancel, p.Identifier)
		fields.NotifyURL = s.endpoints.URL(endpoint.ActionNotify, p.Identifier)
	}
	return fields
}

// checkPolicy evaluates the guard rules. A refusal happens before any
// gateway interaction, so nothing is recorded.
func (s *Service) checkPolicy(p *payment.Payment) (*Response, bool, error) {
	if s.enforcer == nil {
		return nil, false, nil
	}
	amount, _ := p.Amount.Float64()
	decision, err := s.enforcer.Evaluate(policy.Input{
		Amount:   amount,
		Currency: p.Currency,
		Gateway:  p.Gateway,
		Manual:   s.registry.IsManual(p.Gateway),
	})
	if err != nil {
		return nil, false, err
	}
	if decision.Allow {
		return nil, false, nil
	}
	s.log.Info("purchase refused by policy", map[string]any{"payment": p.Identifier, "reason": decision.Reason})
	return errorResponse(decision.Reason, nil), true, nil
}

// send performs the outbound call behind the circuit breaker. No lock is
// held here; the status commit re-checks its precondition afterwards.
func (s *Service) send(ctx context.Context, gatewayName string, req gateway.Request) (gateway.Response, error) {
	if s.breaker != nil && !s.breaker.Allow(gatewayName) {
		return nil, fmt.Errorf("gateway %s is unavailable (circuit open)", gatewayName)
	}
	resp, err := req.Send(ctx)
	if s.breaker != nil {
		if err != nil {
			s.breaker.RecordFailure(gatewayName)
		} else {
			s.breaker.RecordSuccess(gatewayName)
		}
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.GatewayErrorsTotal.WithLabelValues(gatewayName).Inc()
		}
		return nil, err
	}
	return resp, nil
}

// commitBranch records the branch's message, commits the status transition
// with a compare-and-set against the precondition status, and fires the
// captured hooks when the committed state is Captured.
func (s *Service) commitBranch(
	ctx context.Context,
	p *payment.Payment,
	resp gateway.Response,
	msgType message.Type,
	to payment.Status,
	out *Response,
) (*Response, error) {
	if err := s.messages.Record(ctx, msgType, p.Identifier, auditResponse(resp)); err != nil {
		return nil, err
	}

	committed, err := s.payments.UpdateStatusFrom(ctx, p.Identifier, p.Status, to)
	if err != nil {
		return nil, err
	}
	if !committed {
		return nil, fmt.Errorf("%w: payment status changed concurrently", ErrInvalidState)
	}
	p.Status = to

	if to == payment.StatusCaptured {
		s.notifyCaptured(ctx, p, out)
	}
	return out, nil
}

// notifyCaptured runs the hooks synchronously, post-commit.
func (s *Service) notifyCaptured(ctx context.Context, p *payment.Payment, resp *Response) {
	for _, h := range s.hooks {
		h(ctx, p, resp)
	}
}

func (s *Service) purchaseFailure(ctx context.Context, p *payment.Payment, cause error) (*Response, error) {
	return s.recordFailure(ctx, p, message.PurchaseError, cause)
}

func (s *Service) completeFailure(ctx context.Context, p *payment.Payment, cause error) (*Response, error) {
	return s.recordFailure(ctx, p, message.CompletePurchaseError, cause)
}

// recordFailure handles adapter-level failure: recorded in the audit trail,
// surfaced as an error outcome, no status mutation. Only the audit write
// itself can fail the operation.
func (s *Service) recordFailure(ctx context.Context, p *payment.Payment, msgType message.Type, cause error) (*Response, error) {
	if err := s.messages.Record(ctx, msgType, p.Identifier, errorPayload{Error: cause.Error()}); err != nil {
		return nil, err
	}
	s.count(p.Gateway, OutcomeError)
	s.log.Error("gateway call failed", map[string]any{
		"payment": p.Identifier, "gateway": p.Gateway, "error": cause.Error(),
	})
	return errorResponse(cause.Error(), nil), nil
}

func (s *Service) count(gatewayName string, outcome Outcome) {
	if s.metrics != nil {
		s.metrics.PurchasesTotal.WithLabelValues(gatewayName, string(outcome)).Inc()
	}
}
