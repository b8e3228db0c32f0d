package payment

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("payment: not found")

// Repository persists payment records. Implementations must make
// UpdateStatusFrom atomic: the status comparison and the write happen as one
// operation, so concurrent lifecycle calls against the same payment cannot
// both commit.
type Repository interface {
	// Save inserts a new payment record.
	Save(ctx context.Context, p *Payment) error

	// Get loads a payment by its identifier, or ErrNotFound.
	Get(ctx context.Context, identifier string) (*Payment, error)

	// UpdateStatusFrom sets the status to "to" only if it currently equals
	// "from" (compare-and-set). It returns false when the payment was in a
	// different status, which means another invocation won the race.
	UpdateStatusFrom(ctx context.Context, identifier string, from, to Status) (bool, error)

	// SaveReference persists the opaque gateway correlation data.
	SaveReference(ctx context.Context, identifier string, ref Reference) error
}
