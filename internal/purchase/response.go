package purchase

import "github.com/slievr/silverstripe-omnipay/internal/gateway"

// Outcome is the normalized result class a caller sees. Raw gateway
// responses stay attached for advanced callers but are never required.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeRedirect Outcome = "redirect"
	OutcomeError    Outcome = "error"
)

// Response is the caller-facing result of a lifecycle operation. It is
// ephemeral and never persisted.
type Response struct {
	Outcome     Outcome
	Message     string
	RedirectURL string
	Raw         gateway.Response
}

func successResponse(msg string, raw gateway.Response) *Response {
	return attachRedirect(&Response{Outcome: OutcomeSuccess, Message: msg, Raw: raw})
}

func redirectResponse(msg string, raw gateway.Response) *Response {
	return attachRedirect(&Response{Outcome: OutcomeRedirect, Message: msg, Raw: raw})
}

func errorResponse(msg string, raw gateway.Response) *Response {
	return attachRedirect(&Response{Outcome: OutcomeError, Message: msg, Raw: raw})
}

// attachRedirect carries the redirect URL regardless of which branch built
// the response, matching the behavior callers rely on for off-site flows.
func attachRedirect(r *Response) *Response {
	if r.Raw != nil {
		r.RedirectURL = r.Raw.RedirectURL()
	}
	return r
}
