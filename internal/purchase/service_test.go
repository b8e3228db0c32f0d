package purchase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slievr/silverstripe-omnipay/internal/endpoint"
	"github.com/slievr/silverstripe-omnipay/internal/gateway"
	"github.com/slievr/silverstripe-omnipay/internal/gateway/circuitbreaker"
	"github.com/slievr/silverstripe-omnipay/internal/gateway/mock"
	"github.com/slievr/silverstripe-omnipay/internal/message"
	"github.com/slievr/silverstripe-omnipay/internal/payment"
	"github.com/slievr/silverstripe-omnipay/internal/persistence/inmemory"
	"github.com/slievr/silverstripe-omnipay/internal/policy"
)

type fixture struct {
	payments *inmemory.PaymentRepository
	messages *inmemory.MessageLog
	registry *gateway.Registry
	gateway  *mock.Gateway
	service  *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		payments: inmemory.NewPaymentRepository(),
		messages: inmemory.NewMessageLog(),
		registry: gateway.NewRegistry(),
		gateway:  mock.New("mock"),
	}
	f.registry.Register(f.gateway)
	resolver, err := endpoint.NewBaseURLResolver("https://shop.example.com")
	require.NoError(t, err)
	f.service = NewService(f.payments, f.messages, f.registry, resolver, opts...)
	return f
}

func (f *fixture) createPayment(t *testing.T, amount string) *payment.Payment {
	t.Helper()
	p := payment.New("mock", decimal.RequireFromString(amount), "EUR")
	require.NoError(t, f.payments.Save(context.Background(), p))
	return p
}

func (f *fixture) messageTypes(t *testing.T, identifier string) []message.Type {
	t.Helper()
	msgs, err := f.messages.ListByPaymentRef(context.Background(), identifier)
	require.NoError(t, err)
	types := make([]message.Type, len(msgs))
	for i, m := range msgs {
		types[i] = m.Type
	}
	return types
}

func (f *fixture) status(t *testing.T, identifier string) payment.Status {
	t.Helper()
	p, err := f.payments.Get(context.Background(), identifier)
	require.NoError(t, err)
	return p.Status
}

func TestPurchase_ImmediateSuccess(t *testing.T) {
	var hooked []string
	f := newFixture(t, WithCapturedHook(func(ctx context.Context, p *payment.Payment, resp *Response) {
		hooked = append(hooked, p.Identifier)
	}))
	p := f.createPayment(t, "25.00")

	resp, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Equal(t, "Payment successful", resp.Message)
	assert.Equal(t, payment.StatusCaptured, f.status(t, p.Identifier))
	assert.Equal(t,
		[]message.Type{message.PurchaseRequest, message.PurchasedResponse},
		f.messageTypes(t, p.Identifier))
	assert.Equal(t, []string{p.Identifier}, hooked, "hook must fire exactly once")
}

func TestPurchase_RedirectThenComplete(t *testing.T) {
	var hooked int
	f := newFixture(t, WithCapturedHook(func(ctx context.Context, p *payment.Payment, resp *Response) {
		hooked++
	}))
	p := f.createPayment(t, "99.99")

	storedRef := map[string]any{"VPSTxId": "{TX-77}", "SecurityKey": "sk-1"}
	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.RequestWith(mock.Redirecting("https://gateway.example.com/pay/77", storedRef)), nil
	}

	resp, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirect, resp.Outcome)
	assert.Equal(t, "https://gateway.example.com/pay/77", resp.RedirectURL)
	assert.Equal(t, payment.StatusAuthorized, f.status(t, p.Identifier))
	assert.Zero(t, hooked)

	// The completion leg must see the reference persisted during purchase,
	// never anything the caller supplies.
	var seen gateway.Fields
	f.gateway.CompleteFunc = func(fields gateway.Fields) (gateway.Request, error) {
		seen = fields
		return mock.RequestWith(mock.Approved(nil)), nil
	}

	resp, err = f.service.CompletePurchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Equal(t, map[string]any(seen.Reference), storedRef)
	assert.Equal(t, payment.StatusCaptured, f.status(t, p.Identifier))
	assert.Equal(t, 1, hooked)
	assert.Equal(t,
		[]message.Type{
			message.PurchaseRequest,
			message.PurchaseRedirectResponse,
			message.CompletePurchaseRequest,
			message.PurchasedResponse,
		},
		f.messageTypes(t, p.Identifier))
}

func TestPurchase_Declined(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")

	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.RequestWith(mock.Declined("card_declined", "Insufficient funds")), nil
	}

	resp, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, resp.Outcome)
	assert.Equal(t, "Error (card_declined): Insufficient funds", resp.Message)
	assert.Equal(t, payment.StatusCreated, f.status(t, p.Identifier),
		"a decline must not change the payment status")
	assert.Equal(t,
		[]message.Type{message.PurchaseRequest, message.PurchaseError},
		f.messageTypes(t, p.Identifier))
}

func TestPurchase_SendFailure(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")

	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.FailingRequest(errors.New("connection reset")), nil
	}

	resp, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, resp.Outcome)
	assert.Contains(t, resp.Message, "connection reset")
	assert.Equal(t, payment.StatusCreated, f.status(t, p.Identifier))
	assert.Equal(t,
		[]message.Type{message.PurchaseRequest, message.PurchaseError},
		f.messageTypes(t, p.Identifier))
}

func TestPurchase_RequiresCreatedStatus(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")
	ok, err := f.payments.UpdateStatusFrom(context.Background(), p.Identifier, payment.StatusCreated, payment.StatusCaptured)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.service.Purchase(context.Background(), p.Identifier, Data{})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, f.messageTypes(t, p.Identifier),
		"a refused purchase must not touch the audit trail")
}

func TestPurchase_UnknownPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Purchase(context.Background(), "nope", Data{})
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

func TestPurchase_UnknownGateway(t *testing.T) {
	f := newFixture(t)
	p := payment.New("worldpay", decimal.RequireFromString("5.00"), "GBP")
	require.NoError(t, f.payments.Save(context.Background(), p))

	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	assert.ErrorIs(t, err, gateway.ErrUnknownGateway)
}

func TestPurchase_FieldsComeFromTheRecord(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "123.45")

	var seen gateway.Fields
	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		seen = fields
		return mock.RequestWith(mock.Approved(nil)), nil
	}

	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{
		ClientIP: "203.0.113.9",
		Metadata: map[string]string{"orderId": "ORD-1"},
	})
	require.NoError(t, err)

	assert.True(t, seen.Amount.Equal(decimal.RequireFromString("123.45")))
	assert.Equal(t, "EUR", seen.Currency)
	assert.Equal(t, p.Identifier, seen.TransactionID)
	assert.Equal(t, "Online Order", seen.Description)
	assert.Equal(t, "203.0.113.9", seen.ClientIP)
	assert.Equal(t, "ORD-1", seen.Metadata["orderId"])
	assert.Equal(t, fmt.Sprintf("https://shop.example.com/gateway/%s/complete", p.Identifier), seen.ReturnURL)
	assert.Equal(t, fmt.Sprintf("https://shop.example.com/gateway/%s/cancel", p.Identifier), seen.CancelURL)
	assert.Equal(t, fmt.Sprintf("https://shop.example.com/gateway/%s/notify", p.Identifier), seen.NotifyURL)
}

func TestPurchase_CardIsMaskedInAuditTrail(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")

	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{
		Card: &gateway.Card{
			Number:      "4111111111111111",
			ExpiryMonth: "12",
			ExpiryYear:  "2030",
			CVV:         "123",
			HolderName:  "J Doe",
		},
	})
	require.NoError(t, err)

	msgs, err := f.messages.ListByPaymentRef(context.Background(), p.Identifier)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	payload := string(msgs[0].Payload)
	assert.Contains(t, payload, "****1111")
	assert.NotContains(t, payload, "4111111111111111")
	assert.NotContains(t, payload, "123")
}

func TestPurchase_ManualGatewayAuthorizes(t *testing.T) {
	f := newFixture(t)
	f.registry.SetManual("mock", true)
	p := f.createPayment(t, "10.00")

	resp, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Equal(t, "Manual payment authorised", resp.Message)
	assert.Equal(t, payment.StatusAuthorized, f.status(t, p.Identifier))
	assert.Equal(t,
		[]message.Type{message.PurchaseRequest, message.AuthorizedResponse},
		f.messageTypes(t, p.Identifier))
}

func TestPurchase_ManualGatewayConfiguredToCapture(t *testing.T) {
	var hooked int
	f := newFixture(t,
		WithManualPurchaseStatus(payment.StatusCaptured),
		WithCapturedHook(func(ctx context.Context, p *payment.Payment, resp *Response) { hooked++ }),
	)
	f.registry.SetManual("mock", true)
	p := f.createPayment(t, "10.00")

	resp, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, "Payment successful", resp.Message)
	assert.Equal(t, payment.StatusCaptured, f.status(t, p.Identifier))
	assert.Equal(t, 1, hooked)
}

func TestPurchase_PolicyRefusal(t *testing.T) {
	enforcer, err := policy.NewEnforcer([]policy.Rule{{
		ID:         "max-amount",
		Expression: "amount > 100",
		Decision:   policy.Decision{Allow: false, Reason: "amount exceeds limit"},
	}})
	require.NoError(t, err)

	f := newFixture(t, WithPolicy(enforcer))
	p := f.createPayment(t, "250.00")

	resp, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, resp.Outcome)
	assert.Equal(t, "amount exceeds limit", resp.Message)
	assert.Equal(t, payment.StatusCreated, f.status(t, p.Identifier))
	assert.Empty(t, f.messageTypes(t, p.Identifier),
		"a policy refusal happens before any gateway interaction")
}

func TestPurchase_CircuitBreakerOpens(t *testing.T) {
	breaker := circuitbreaker.NewWithSettings(1, time.Minute, 1)
	f := newFixture(t, WithBreaker(breaker))

	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.FailingRequest(errors.New("gateway down")), nil
	}

	p1 := f.createPayment(t, "10.00")
	resp, err := f.service.Purchase(context.Background(), p1.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, resp.Outcome)

	// The breaker is now open: the next attempt is refused locally.
	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.RequestWith(mock.Approved(nil)), nil
	}
	p2 := f.createPayment(t, "10.00")
	resp, err = f.service.Purchase(context.Background(), p2.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, resp.Outcome)
	assert.Contains(t, resp.Message, "circuit open")
	assert.Equal(t, payment.StatusCreated, f.status(t, p2.Identifier))
}

func TestCompletePurchase_AlreadyCapturedIsIdempotent(t *testing.T) {
	var hooked int
	f := newFixture(t, WithCapturedHook(func(ctx context.Context, p *payment.Payment, resp *Response) { hooked++ }))
	p := f.createPayment(t, "10.00")

	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	require.Equal(t, payment.StatusCaptured, f.status(t, p.Identifier))

	f.gateway.CompleteFunc = func(fields gateway.Fields) (gateway.Request, error) {
		t.Fatal("an already-captured payment must not hit the gateway again")
		return nil, nil
	}

	resp, err := f.service.CompletePurchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Equal(t, "Payment already captured", resp.Message)
	assert.Equal(t, 1, hooked, "the captured hook must not fire a second time")
}

func TestCompletePurchase_VoidPaymentRejected(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")
	_, err := f.service.CancelPurchase(context.Background(), p.Identifier)
	require.NoError(t, err)

	_, err = f.service.CompletePurchase(context.Background(), p.Identifier, Data{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCompletePurchase_GatewayErrorRecorded(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")
	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.RequestWith(mock.Redirecting("https://gw/pay", nil)), nil
	}
	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)

	f.gateway.CompleteFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.FailingRequest(errors.New("timeout")), nil
	}

	resp, err := f.service.CompletePurchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, resp.Outcome)
	assert.Equal(t, payment.StatusAuthorized, f.status(t, p.Identifier),
		"a failed completion leaves the payment completable")
	assert.Equal(t,
		[]message.Type{
			message.PurchaseRequest,
			message.PurchaseRedirectResponse,
			message.CompletePurchaseRequest,
			message.CompletePurchaseError,
		},
		f.messageTypes(t, p.Identifier))
}

func TestCompletePurchase_ConfirmsWhenResponseRequiresIt(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")
	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.RequestWith(mock.Redirecting("https://gw/pay", map[string]any{"txId": "1"})), nil
	}
	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)

	confirming := mock.Approved(nil)
	confirming.ConfirmFunc = func(ctx context.Context, confirmationURL string) error { return nil }
	f.gateway.CompleteFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.RequestWith(confirming), nil
	}

	_, err = f.service.CompletePurchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	require.Len(t, confirming.Confirmed, 1)
	assert.Equal(t,
		fmt.Sprintf("https://shop.example.com/gateway/%s/complete", p.Identifier),
		confirming.Confirmed[0])
}

func TestCompletePurchase_LostRaceSkipsHooks(t *testing.T) {
	var hooked int
	f := newFixture(t, WithCapturedHook(func(ctx context.Context, p *payment.Payment, resp *Response) { hooked++ }))
	p := f.createPayment(t, "10.00")
	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.RequestWith(mock.Redirecting("https://gw/pay", nil)), nil
	}
	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)

	// A concurrent notification captures the payment while our gateway call
	// is in flight.
	f.gateway.CompleteFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.RequestWith(mock.Approved(nil)), nil
	}
	f.service.payments = raceRepo{Repository: f.payments}

	resp, err := f.service.CompletePurchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Equal(t, "Payment already captured", resp.Message)
	assert.Zero(t, hooked)
}

// raceRepo makes every compare-and-set lose, simulating a concurrent writer.
type raceRepo struct {
	payment.Repository
}

func (raceRepo) UpdateStatusFrom(ctx context.Context, identifier string, from, to payment.Status) (bool, error) {
	return false, nil
}

func TestPurchase_LostRaceIsInvalidState(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")
	f.service.payments = raceRepo{Repository: f.payments}

	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelPurchase(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")

	resp, err := f.service.CancelPurchase(context.Background(), p.Identifier)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Equal(t, payment.StatusVoid, f.status(t, p.Identifier))
	assert.Equal(t, []message.Type{message.VoidRequest}, f.messageTypes(t, p.Identifier))
}

func TestCancelPurchase_TerminalPaymentRejected(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")
	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)
	require.Equal(t, payment.StatusCaptured, f.status(t, p.Identifier))

	_, err = f.service.CancelPurchase(context.Background(), p.Identifier)
	assert.ErrorIs(t, err, ErrInvalidState)
}

// brokenLog fails every write, standing in for a storage outage.
type brokenLog struct{}

func (brokenLog) Record(ctx context.Context, t message.Type, paymentRef string, payload any) error {
	return errors.New("disk full")
}

func (brokenLog) ListByPaymentRef(ctx context.Context, paymentRef string) ([]message.Message, error) {
	return nil, errors.New("disk full")
}

func TestPurchase_AuditWriteFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")
	f.service.messages = brokenLog{}

	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, payment.StatusCreated, f.status(t, p.Identifier))
}

func TestPurchase_ReferencePersistedBeforeCommit(t *testing.T) {
	f := newFixture(t)
	p := f.createPayment(t, "10.00")
	f.gateway.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.RequestWith(mock.Redirecting("https://gw/pay", map[string]any{"chargeId": "ch_9"})), nil
	}

	_, err := f.service.Purchase(context.Background(), p.Identifier, Data{})
	require.NoError(t, err)

	got, err := f.payments.Get(context.Background(), p.Identifier)
	require.NoError(t, err)
	assert.Equal(t, payment.Reference{"chargeId": "ch_9"}, got.GatewayReference)
}
