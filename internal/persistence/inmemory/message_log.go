package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slievr/silverstripe-omnipay/internal/message"
)

// MessageLog is an append-only, in-memory message.Log.
type MessageLog struct {
	mu      sync.Mutex
	entries []message.Message
}

func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

func (l *MessageLog) Record(ctx context.Context, t message.Type, paymentRef string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling message payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, message.Message{
		ID:         uuid.NewString(),
		Type:       t,
		PaymentRef: paymentRef,
		Payload:    raw,
		CreatedAt:  time.Now().UTC(),
	})
	return nil
}

func (l *MessageLog) ListByPaymentRef(ctx context.Context, paymentRef string) ([]message.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []message.Message
	for _, m := range l.entries {
		if m.PaymentRef == paymentRef {
			out = append(out, m)
		}
	}
	return out, nil
}
