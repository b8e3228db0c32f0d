package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/slievr/silverstripe-omnipay/internal/message"
)

// MessageLog is an append-only message.Log on sqlite. There is no update or
// delete path on purpose.
type MessageLog struct {
	db *sql.DB
}

func NewMessageLog(db *sql.DB) *MessageLog {
	return &MessageLog{db: db}
}

func (l *MessageLog) Record(ctx context.Context, t message.Type, paymentRef string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling message payload: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO messages (id, type, payment_ref, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(),
		string(t),
		paymentRef,
		string(raw),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording %s message for %s: %w", t, paymentRef, err)
	}
	return nil
}

func (l *MessageLog) ListByPaymentRef(ctx context.Context, paymentRef string) ([]message.Message, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, type, payment_ref, payload, created_at
		 FROM messages
		 WHERE payment_ref = ?
		 ORDER BY created_at, id`,
		paymentRef,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var m message.Message
		var t, payload, createdAt string
		if err := rows.Scan(&m.ID, &t, &m.PaymentRef, &payload, &createdAt); err != nil {
			return nil, err
		}
		m.Type = message.Type(t)
		m.Payload = json.RawMessage(payload)
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt created_at on message %s: %w", m.ID, err)
		}
		m.CreatedAt = parsed
		out = append(out, m)
	}
	return out, rows.Err()
}
