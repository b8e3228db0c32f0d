// Package stripe implements the gateway capability against the Stripe
// charges API. Purchases are on-session card charges; there is no off-site
// redirect leg, so CompletePurchase is a charge lookup.
package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slievr/silverstripe-omnipay/internal/gateway"
)

const (
	apiBaseURL           = "https://api.stripe.com/v1"
	defaultRetryAttempts = 2
	defaultRetryDelay    = 500 * time.Millisecond
)

// Gateway is a gateway.Adapter backed by the Stripe HTTP API.
type Gateway struct {
	httpClient *http.Client
	apiBaseURL string
	secretKey  string
}

// New creates a Stripe gateway. A nil client gets a 10s-timeout default.
func New(secretKey string, client *http.Client) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Gateway{
		httpClient: client,
		apiBaseURL: apiBaseURL,
		secretKey:  secretKey,
	}
}

// NewWithBaseURL creates a Stripe gateway pointed at an alternate API base,
// for tests against a local stub.
func NewWithBaseURL(secretKey, baseURL string, client *http.Client) *Gateway {
	g := New(secretKey, client)
	g.apiBaseURL = strings.TrimRight(baseURL, "/")
	return g
}

func (g *Gateway) Name() string {
	return "stripe"
}

// Purchase prepares a charge creation call.
func (g *Gateway) Purchase(fields gateway.Fields) (gateway.Request, error) {
	payload := url.Values{}
	// Stripe wants the amount in minor units.
	payload.Set("amount", fields.Amount.Shift(2).Truncate(0).String())
	payload.Set("currency", strings.ToLower(fields.Currency))
	payload.Set("description", fields.Description)
	payload.Set("metadata[transaction_id]", fields.TransactionID)

	if token, ok := fields.Metadata["stripe_token"]; ok && token != "" {
		payload.Set("source", token)
	} else {
		return nil, fmt.Errorf("stripe: missing stripe_token in metadata")
	}

	return &chargeRequest{
		gw:             g,
		method:         http.MethodPost,
		path:           "/charges",
		body:           payload.Encode(),
		idempotencyKey: idempotencyKey(fields.TransactionID),
	}, nil
}

// CompletePurchase prepares a charge retrieval using the persisted charge id.
func (g *Gateway) CompletePurchase(fields gateway.Fields) (gateway.Request, error) {
	chargeID, _ := fields.Reference["chargeId"].(string)
	if chargeID == "" {
		return nil, fmt.Errorf("stripe: gateway reference is missing chargeId")
	}
	return &chargeRequest{
		gw:     g,
		method: http.MethodGet,
		path:   "/charges/" + chargeID,
	}, nil
}

// idempotencyKey derives a Stripe idempotency key from the transaction id.
func idempotencyKey(transactionID string) string {
	key := transactionID + "-" + uuid.NewString()
	if len(key) > 255 {
		return key[:255]
	}
	return key
}

type chargeRequest struct {
	gw             *Gateway
	method         string
	path           string
	body           string
	idempotencyKey string
}

// Send performs the API call, retrying 429 and 5xx responses a bounded
// number of times. Network-level failure surfaces as an error; a declined
// charge is a non-successful Response.
func (r *chargeRequest) Send(ctx context.Context) (gateway.Response, error) {
	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt <= defaultRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(defaultRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, r.method, r.gw.apiBaseURL+r.path, bytes.NewBufferString(r.body))
		if err != nil {
			return nil, fmt.Errorf("stripe: building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+r.gw.secretKey)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if r.idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", r.idempotencyKey)
		}

		current, doErr := r.gw.httpClient.Do(req)
		if doErr != nil {
			lastErr = fmt.Errorf("stripe: http error on attempt %d: %w", attempt+1, doErr)
			continue
		}

		if current.StatusCode == http.StatusTooManyRequests || current.StatusCode >= http.StatusInternalServerError {
			body, _ := io.ReadAll(current.Body)
			current.Body.Close()
			lastErr = fmt.Errorf("stripe: HTTP %d on attempt %d: %s", current.StatusCode, attempt+1, string(body))
			continue
		}

		resp = current
		break
	}

	if resp == nil {
		return nil, lastErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stripe: reading response body: %w", err)
	}
	return parseChargeResponse(resp.StatusCode, body), nil
}

// errorEnvelope is the error structure of the Stripe API.
type errorEnvelope struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		Message     string `json:"message"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

func parseChargeResponse(status int, body []byte) *chargeResponse {
	cr := &chargeResponse{raw: body}

	if status >= 200 && status < 300 {
		var charge map[string]any
		if err := json.Unmarshal(body, &charge); err == nil {
			cr.data = charge
			if id, ok := charge["id"].(string); ok {
				cr.ref = map[string]any{"chargeId": id}
			}
			if st, ok := charge["status"].(string); ok {
				cr.successful = st == "succeeded"
				cr.message = st
			}
		}
		return cr
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		cr.code = envelope.Error.Code
		if envelope.Error.DeclineCode != "" {
			cr.code = envelope.Error.DeclineCode
		}
		cr.message = envelope.Error.Message
	} else {
		cr.code = fmt.Sprintf("http_%d", status)
		cr.message = strings.TrimSpace(string(body))
	}
	return cr
}

type chargeResponse struct {
	successful bool
	code       string
	message    string
	ref        map[string]any
	data       map[string]any
	raw        []byte
}

var _ gateway.Response = (*chargeResponse)(nil)

func (c *chargeResponse) Successful() bool          { return c.successful }
func (c *chargeResponse) Redirect() bool            { return false }
func (c *chargeResponse) Code() string              { return c.code }
func (c *chargeResponse) Message() string           { return c.message }
func (c *chargeResponse) RedirectURL() string       { return "" }
func (c *chargeResponse) Reference() map[string]any { return c.ref }
func (c *chargeResponse) Data() any                 { return c.data }
