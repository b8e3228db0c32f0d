// Package reporting builds summaries over a payment's audit trail. The
// summaries feed the read-only audit endpoints; they never mutate anything.
package reporting

import (
	"context"
	"time"

	"github.com/slievr/silverstripe-omnipay/internal/message"
)

// Summary is an aggregate view over one payment's recorded messages.
type Summary struct {
	PaymentRef string               `json:"paymentRef"`
	Total      int                  `json:"total"`
	ByType     map[message.Type]int `json:"byType"`
	Errors     int                  `json:"errors"`
	FirstAt    time.Time            `json:"firstAt"`
	LastAt     time.Time            `json:"lastAt"`
}

// errorTypes are the message types that record a failed interaction.
var errorTypes = map[message.Type]bool{
	message.PurchaseError:         true,
	message.CompletePurchaseError: true,
}

// Summarize folds a payment's messages into a Summary. An empty trail
// yields a zero summary with the ref filled in.
func Summarize(paymentRef string, msgs []message.Message) Summary {
	s := Summary{
		PaymentRef: paymentRef,
		ByType:     make(map[message.Type]int),
	}
	for _, m := range msgs {
		s.Total++
		s.ByType[m.Type]++
		if errorTypes[m.Type] {
			s.Errors++
		}
		if s.FirstAt.IsZero() || m.CreatedAt.Before(s.FirstAt) {
			s.FirstAt = m.CreatedAt
		}
		if m.CreatedAt.After(s.LastAt) {
			s.LastAt = m.CreatedAt
		}
	}
	return s
}

// Reporter reads a payment's trail from the message log and summarizes it.
type Reporter struct {
	messages message.Log
}

func NewReporter(messages message.Log) *Reporter {
	return &Reporter{messages: messages}
}

func (r *Reporter) Summary(ctx context.Context, paymentRef string) (Summary, error) {
	msgs, err := r.messages.ListByPaymentRef(ctx, paymentRef)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(paymentRef, msgs), nil
}
