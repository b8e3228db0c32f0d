// Package mock provides a scriptable gateway adapter for tests and local
// development. Behavior is overridden per call via func fields; the default
// is an immediately successful purchase.
package mock

import (
	"context"

	"github.com/google/uuid"

	"github.com/slievr/silverstripe-omnipay/internal/gateway"
)

// Gateway is a scriptable gateway.Adapter.
type Gateway struct {
	GatewayName  string
	PurchaseFunc func(fields gateway.Fields) (gateway.Request, error)
	CompleteFunc func(fields gateway.Fields) (gateway.Request, error)
}

// New creates a mock gateway with the given name.
func New(name string) *Gateway {
	return &Gateway{GatewayName: name}
}

func (g *Gateway) Name() string {
	return g.GatewayName
}

// Purchase calls PurchaseFunc if set, otherwise returns a request that
// succeeds with a fresh transaction reference.
func (g *Gateway) Purchase(fields gateway.Fields) (gateway.Request, error) {
	if g.PurchaseFunc != nil {
		return g.PurchaseFunc(fields)
	}
	ref := map[string]any{"transactionReference": uuid.NewString()}
	return RequestWith(Approved(ref)), nil
}

// CompletePurchase calls CompleteFunc if set, otherwise succeeds echoing the
// stored reference.
func (g *Gateway) CompletePurchase(fields gateway.Fields) (gateway.Request, error) {
	if g.CompleteFunc != nil {
		return g.CompleteFunc(fields)
	}
	return RequestWith(Approved(fields.Reference)), nil
}

// Request is a scriptable gateway.Request.
type Request struct {
	SendFunc func(ctx context.Context) (gateway.Response, error)
}

func (r *Request) Send(ctx context.Context) (gateway.Response, error) {
	return r.SendFunc(ctx)
}

// RequestWith returns a request whose Send yields the given response.
func RequestWith(resp gateway.Response) *Request {
	return &Request{SendFunc: func(ctx context.Context) (gateway.Response, error) {
		return resp, nil
	}}
}

// FailingRequest returns a request whose Send fails with err.
func FailingRequest(err error) *Request {
	return &Request{SendFunc: func(ctx context.Context) (gateway.Response, error) {
		return nil, err
	}}
}

// Response is a canned gateway.Response.
type Response struct {
	IsSuccessful bool
	IsRedirect   bool
	StatusCode   string
	StatusMsg    string
	URL          string
	Ref          map[string]any
	Raw          any

	// ConfirmFunc, when set, makes the response a gateway.Confirmer.
	// Confirmed records the URL each confirmation was sent with.
	ConfirmFunc func(ctx context.Context, confirmationURL string) error
	Confirmed   []string
}

var _ gateway.Response = (*Response)(nil)

func (r *Response) Successful() bool          { return r.IsSuccessful }
func (r *Response) Redirect() bool            { return r.IsRedirect }
func (r *Response) Code() string              { return r.StatusCode }
func (r *Response) Message() string           { return r.StatusMsg }
func (r *Response) RedirectURL() string       { return r.URL }
func (r *Response) Reference() map[string]any { return r.Ref }
func (r *Response) Data() any                 { return r.Raw }

func (r *Response) Confirm(ctx context.Context, confirmationURL string) error {
	r.Confirmed = append(r.Confirmed, confirmationURL)
	if r.ConfirmFunc != nil {
		return r.ConfirmFunc(ctx, confirmationURL)
	}
	return nil
}

// Approved builds a successful response carrying the given reference.
func Approved(ref map[string]any) *Response {
	return &Response{IsSuccessful: true, StatusMsg: "approved", Ref: ref}
}

// Redirecting builds a redirect-pending response.
func Redirecting(redirectURL string, ref map[string]any) *Response {
	return &Response{IsRedirect: true, URL: redirectURL, StatusMsg: "redirect", Ref: ref}
}

// Declined builds a failed (but non-erroring) response.
func Declined(code, msg string) *Response {
	return &Response{StatusCode: code, StatusMsg: msg}
}
