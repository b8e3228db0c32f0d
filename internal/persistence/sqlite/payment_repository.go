package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slievr/silverstripe-omnipay/internal/payment"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	ref, err := marshalReference(p.GatewayReference)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO payments
		 (identifier, gateway, amount, currency, status, gateway_reference, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Identifier,
		p.Gateway,
		p.Amount.String(),
		p.Currency,
		string(p.Status),
		ref,
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (r *PaymentRepository) Get(ctx context.Context, identifier string) (*payment.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT identifier, gateway, amount, currency, status, gateway_reference, created_at
		 FROM payments
		 WHERE identifier = ?`,
		identifier,
	)

	var p payment.Payment
	var amount, status, createdAt string
	var ref sql.NullString

	if err := row.Scan(&p.Identifier, &p.Gateway, &amount, &p.Currency, &status, &ref, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, err
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for payment %s: %w", p.Identifier, err)
	}
	p.Amount = dec
	p.Status = payment.Status(status)

	if ref.Valid && ref.String != "" {
		if err := json.Unmarshal([]byte(ref.String), &p.GatewayReference); err != nil {
			return nil, fmt.Errorf("corrupt gateway reference for payment %s: %w", p.Identifier, err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at for payment %s: %w", p.Identifier, err)
	}
	p.CreatedAt = t

	return &p, nil
}

func (r *PaymentRepository) UpdateStatusFrom(ctx context.Context, identifier string, from, to payment.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments
		 SET status = ?
		 WHERE identifier = ? AND status = ?`,
		string(to),
		identifier,
		string(from),
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	// 0 rows = the payment was missing or in another status.
	return affected == 1, nil
}

func (r *PaymentRepository) SaveReference(ctx context.Context, identifier string, ref payment.Reference) error {
	raw, err := marshalReference(ref)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments
		 SET gateway_reference = ?
		 WHERE identifier = ?`,
		raw,
		identifier,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func marshalReference(ref payment.Reference) (sql.NullString, error) {
	if ref == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling gateway reference: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
