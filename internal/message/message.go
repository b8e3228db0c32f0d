// Package message is the append-only audit trail. Every gateway request,
// response and error is captured as an immutable entry tied to a payment.
// Recording is a correctness requirement, not best-effort: a failed write
// aborts the enclosing operation.
package message

import (
	"context"
	"encoding/json"
	"time"
)

// Type enumerates the audit entry kinds.
type Type string

const (
	PurchaseRequest          Type = "PurchaseRequest"
	AuthorizedResponse       Type = "AuthorizedResponse"
	PurchasedResponse        Type = "PurchasedResponse"
	PurchaseRedirectResponse Type = "PurchaseRedirectResponse"
	PurchaseError            Type = "PurchaseError"
	CompletePurchaseRequest  Type = "CompletePurchaseRequest"
	CompletePurchaseError    Type = "CompletePurchaseError"
	VoidRequest              Type = "VoidRequest"
)

// Message is one write-once audit entry. PaymentRef is a back-reference to
// the owning payment's identifier; payments do not hold live collections of
// their messages.
type Message struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	PaymentRef string          `json:"paymentRef"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Log records audit entries. Implementations append only; entries are never
// mutated or deleted.
type Log interface {
	// Record marshals payload and appends a new entry. Errors are fatal to
	// the caller's operation.
	Record(ctx context.Context, t Type, paymentRef string, payload any) error

	// ListByPaymentRef returns a payment's entries in creation order.
	ListByPaymentRef(ctx context.Context, paymentRef string) ([]Message, error)
}
