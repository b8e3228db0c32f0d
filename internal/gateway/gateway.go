// Package gateway defines the capability every payment gateway adapter
// implements, plus the registry that resolves adapters by gateway name.
// Adapters own their wire protocol; the orchestrator is written against
// these interfaces only.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Card carries caller-supplied payment instrument details. The full number
// and CVV never reach the audit trail: MarshalJSON masks them.
type Card struct {
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CVV         string `json:"cvv"`
	HolderName  string `json:"holderName"`
}

// MarshalJSON keeps only the last four digits of the number and drops the
// CVV entirely.
func (c Card) MarshalJSON() ([]byte, error) {
	masked := struct {
		Number      string `json:"number"`
		ExpiryMonth string `json:"expiryMonth"`
		ExpiryYear  string `json:"expiryYear"`
		HolderName  string `json:"holderName"`
	}{
		Number:      maskPAN(c.Number),
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  c.ExpiryYear,
		HolderName:  c.HolderName,
	}
	return json.Marshal(masked)
}

func maskPAN(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "****" + number[len(number)-4:]
}

// Fields is the merged data handed to an adapter for one gateway call.
// Amount, Currency and the callback URLs always come from the payment
// record, never from caller input.
type Fields struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	ReturnURL     string
	CancelURL     string
	NotifyURL     string
	ClientIP      string
	Card          *Card
	Metadata      map[string]string

	// Reference carries the opaque correlation data persisted during the
	// initial purchase leg; only completePurchase populates it.
	Reference map[string]any
}

// Response is a gateway outcome as seen by the orchestrator.
type Response interface {
	// Successful reports whether the gateway confirmed the payment.
	Successful() bool
	// Redirect reports whether the payer must be sent to the gateway's
	// own page to continue.
	Redirect() bool
	Code() string
	Message() string
	RedirectURL() string
	// Reference returns correlation data the orchestrator must persist for
	// the completion leg. May be nil.
	Reference() map[string]any
	// Data exposes the raw adapter-specific response for advanced callers.
	Data() any
}

// Confirmer is implemented by responses whose protocol requires echoing a
// confirmation URL back to the gateway after a successful completion.
type Confirmer interface {
	Confirm(ctx context.Context, confirmationURL string) error
}

// Request is a prepared gateway call. Send performs the outbound network
// call and is the only suspension point of a lifecycle operation.
type Request interface {
	Send(ctx context.Context) (Response, error)
}

// Adapter is the per-gateway capability.
type Adapter interface {
	Name() string
	Purchase(fields Fields) (Request, error)
	CompletePurchase(fields Fields) (Request, error)
}
