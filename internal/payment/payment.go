// Package payment holds the transaction record and its status state machine.
// A Payment is created before any gateway interaction and only ever moves
// forward through the transition table below; Captured and Void are terminal.
package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a payment. It is a closed enumeration;
// use TransitionTo rather than assigning the field directly.
type Status string

const (
	StatusCreated    Status = "Created"
	StatusAuthorized Status = "Authorized"
	StatusCaptured   Status = "Captured"
	StatusVoid       Status = "Void"
)

var ErrInvalidTransition = errors.New("payment: invalid status transition")

var transitions = map[Status]map[Status]bool{
	StatusCreated:    {StatusAuthorized: true, StatusCaptured: true, StatusVoid: true},
	StatusAuthorized: {StatusCaptured: true, StatusVoid: true},
	StatusCaptured:   {},
	StatusVoid:       {},
}

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine permits moving from one
// status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Reference is the opaque, gateway-specific correlation data needed to
// complete an off-site flow. Adapters produce and consume it; nothing else
// inspects its keys. It survives a round trip through persistence as JSON.
type Reference map[string]any

// Payment is one monetary transaction driven through an external gateway.
type Payment struct {
	Identifier       string
	Gateway          string
	Amount           decimal.Decimal
	Currency         string
	Status           Status
	GatewayReference Reference
	CreatedAt        time.Time
}

// New returns a Payment in the Created state with a fresh identifier. The
// identifier doubles as the gateway-facing transaction reference.
func New(gateway string, amount decimal.Decimal, currency string) *Payment {
	return &Payment{
		Identifier: uuid.NewString(),
		Gateway:    gateway,
		Amount:     amount,
		Currency:   currency,
		Status:     StatusCreated,
		CreatedAt:  time.Now().UTC(),
	}
}

// Terminal reports whether the payment can no longer change status.
func (p *Payment) Terminal() bool {
	return p.Status == StatusCaptured || p.Status == StatusVoid
}

// TransitionTo moves the payment to a new status, rejecting any move the
// transition table does not permit.
func (p *Payment) TransitionTo(to Status) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	return nil
}
