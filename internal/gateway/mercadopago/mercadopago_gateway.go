// Package mercadopago implements the gateway capability over the official
// Mercado Pago SDK. Ticket-style payment methods (pix, boleto) come back
// pending with an external resource URL, which maps onto the redirect
// outcome; card payments settle inline.
package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"

	"github.com/slievr/silverstripe-omnipay/internal/gateway"
)

var ErrMissingAccessToken = errors.New("mercadopago: missing access token")

// Gateway is a gateway.Adapter backed by the Mercado Pago payments API.
type Gateway struct {
	client payment.Client
}

func New(accessToken string) (*Gateway, error) {
	if accessToken == "" {
		return nil, ErrMissingAccessToken
	}
	cfg, err := config.New(accessToken)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: creating sdk config: %w", err)
	}
	return &Gateway{client: payment.NewClient(cfg)}, nil
}

func (g *Gateway) Name() string {
	return "mercadopago"
}

// Purchase prepares a payment creation call. The SDK request is built by
// round-tripping a plain map through JSON so only documented API field
// names appear here.
func (g *Gateway) Purchase(fields gateway.Fields) (gateway.Request, error) {
	amount, _ := fields.Amount.Float64()
	payload := map[string]any{
		"transaction_amount": amount,
		"description":        fields.Description,
		"external_reference": fields.TransactionID,
	}
	if fields.NotifyURL != "" {
		payload["notification_url"] = fields.NotifyURL
	}
	if v := fields.Metadata["payment_method_id"]; v != "" {
		payload["payment_method_id"] = v
	}
	if v := fields.Metadata["card_token"]; v != "" {
		payload["token"] = v
	}
	if v := fields.Metadata["payer_email"]; v != "" {
		payload["payer"] = map[string]any{"email": v}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: marshalling payload: %w", err)
	}
	var req payment.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("mercadopago: building sdk request: %w", err)
	}

	return &createRequest{client: g.client, req: req}, nil
}

// CompletePurchase prepares a payment lookup using the persisted payment id.
func (g *Gateway) CompletePurchase(fields gateway.Fields) (gateway.Request, error) {
	rawID, _ := fields.Reference["mpPaymentId"].(string)
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: gateway reference has no usable mpPaymentId: %w", err)
	}
	return &getRequest{client: g.client, id: id}, nil
}

type createRequest struct {
	client payment.Client
	req    payment.Request
}

func (r *createRequest) Send(ctx context.Context) (gateway.Response, error) {
	resp, err := r.client.Create(ctx, r.req)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: create payment: %w", err)
	}
	return wrapResponse(resp)
}

type getRequest struct {
	client payment.Client
	id     int
}

func (r *getRequest) Send(ctx context.Context) (gateway.Response, error) {
	resp, err := r.client.Get(ctx, r.id)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: get payment: %w", err)
	}
	return wrapResponse(resp)
}

// wrapResponse re-marshals the SDK response into a generic map so nested
// optional structures can be walked without depending on their SDK types.
func wrapResponse(resp *payment.Response) (*mpResponse, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: marshalling sdk response: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("mercadopago: decoding sdk response: %w", err)
	}

	return &mpResponse{
		id:     resp.ID,
		status: resp.Status,
		data:   data,
	}, nil
}

type mpResponse struct {
	id     int
	status string
	data   map[string]any
}

var _ gateway.Response = (*mpResponse)(nil)

func (r *mpResponse) Successful() bool {
	return r.status == "approved"
}

func (r *mpResponse) Redirect() bool {
	return (r.status == "pending" || r.status == "in_process") && r.RedirectURL() != ""
}

func (r *mpResponse) Code() string {
	if detail, ok := r.data["status_detail"].(string); ok {
		return detail
	}
	return r.status
}

func (r *mpResponse) Message() string {
	return r.status
}

// RedirectURL digs out the hosted payment page for ticket methods.
func (r *mpResponse) RedirectURL() string {
	for _, path := range [][]string{
		{"point_of_interaction", "transaction_data", "ticket_url"},
		{"transaction_details", "external_resource_url"},
	} {
		if u := lookupString(r.data, path); u != "" {
			return u
		}
	}
	return ""
}

func (r *mpResponse) Reference() map[string]any {
	if r.id == 0 {
		return nil
	}
	return map[string]any{"mpPaymentId": strconv.Itoa(r.id)}
}

func (r *mpResponse) Data() any {
	return r.data
}

func lookupString(data map[string]any, path []string) string {
	current := any(data)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[key]
	}
	s, _ := current.(string)
	return s
}
