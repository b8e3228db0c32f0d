package purchase

import "github.com/slievr/silverstripe-omnipay/internal/gateway"

// requestPayload is the audit copy of an outbound gateway request. The card
// masks itself during marshalling.
type requestPayload struct {
	TransactionID string            `json:"transactionId"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	Description   string            `json:"description,omitempty"`
	ReturnURL     string            `json:"returnUrl,omitempty"`
	CancelURL     string            `json:"cancelUrl,omitempty"`
	NotifyURL     string            `json:"notifyUrl,omitempty"`
	ClientIP      string            `json:"clientIp,omitempty"`
	Card          *gateway.Card     `json:"card,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func auditRequest(fields gateway.Fields) requestPayload {
	return requestPayload{
		TransactionID: fields.TransactionID,
		Amount:        fields.Amount.String(),
		Currency:      fields.Currency,
		Description:   fields.Description,
		ReturnURL:     fields.ReturnURL,
		CancelURL:     fields.CancelURL,
		NotifyURL:     fields.NotifyURL,
		ClientIP:      fields.ClientIP,
		Card:          fields.Card,
		Metadata:      fields.Metadata,
	}
}

// responsePayload is the audit copy of a gateway response.
type responsePayload struct {
	Successful  bool   `json:"successful"`
	Redirect    bool   `json:"redirect"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	Data        any    `json:"data,omitempty"`
}

func auditResponse(resp gateway.Response) responsePayload {
	return responsePayload{
		Successful:  resp.Successful(),
		Redirect:    resp.Redirect(),
		Code:        resp.Code(),
		Message:     resp.Message(),
		RedirectURL: resp.RedirectURL(),
		Data:        resp.Data(),
	}
}

// errorPayload is the audit copy of an adapter failure.
type errorPayload struct {
	Error string `json:"error"`
}
