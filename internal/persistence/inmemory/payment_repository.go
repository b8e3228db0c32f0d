// Package inmemory provides map-backed implementations of the payment
// repository and message log for tests and local development.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/slievr/silverstripe-omnipay/internal/payment"
)

type PaymentRepository struct {
	mu       sync.Mutex
	payments map[string]payment.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[string]payment.Payment)}
}

func (r *PaymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.payments[p.Identifier]; exists {
		return fmt.Errorf("payment %s already exists", p.Identifier)
	}
	r.payments[p.Identifier] = clone(p)
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, identifier string) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[identifier]
	if !ok {
		return nil, payment.ErrNotFound
	}
	copied := clone(&p)
	return &copied, nil
}

func (r *PaymentRepository) UpdateStatusFrom(ctx context.Context, identifier string, from, to payment.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[identifier]
	if !ok {
		return false, payment.ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	r.payments[identifier] = p
	return true, nil
}

func (r *PaymentRepository) SaveReference(ctx context.Context, identifier string, ref payment.Reference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[identifier]
	if !ok {
		return payment.ErrNotFound
	}
	p.GatewayReference = cloneReference(ref)
	r.payments[identifier] = p
	return nil
}

func clone(p *payment.Payment) payment.Payment {
	copied := *p
	copied.GatewayReference = cloneReference(p.GatewayReference)
	return copied
}

func cloneReference(ref payment.Reference) payment.Reference {
	if ref == nil {
		return nil
	}
	copied := make(payment.Reference, len(ref))
	for k, v := range ref {
		copied[k] = v
	}
	return copied
}
