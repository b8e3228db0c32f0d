package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/slievr/silverstripe-omnipay/internal/gateway"
	"github.com/slievr/silverstripe-omnipay/internal/message"
	"github.com/slievr/silverstripe-omnipay/internal/monitor"
	"github.com/slievr/silverstripe-omnipay/internal/payment"
	"github.com/slievr/silverstripe-omnipay/internal/purchase"
)

type createPaymentRequest struct {
	Gateway  string `json:"gateway"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type paymentView struct {
	Identifier string `json:"identifier"`
	Gateway    string `json:"gateway"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

func viewOf(p *payment.Payment) paymentView {
	return paymentView{
		Identifier: p.Identifier,
		Gateway:    p.Gateway,
		Amount:     p.Amount.String(),
		Currency:   p.Currency,
		Status:     string(p.Status),
		CreatedAt:  p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type operationView struct {
	Outcome     string `json:"outcome"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

func viewOfResponse(r *purchase.Response) operationView {
	return operationView{
		Outcome:     string(r.Outcome),
		Message:     r.Message,
		RedirectURL: r.RedirectURL,
	}
}

func (s *Server) createPayment(c *gin.Context) {
	body, valid := s.validatedBody(c, s.createContract)
	if !valid {
		return
	}
	var req createPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	if _, err := s.registry.Resolve(req.Gateway); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown gateway: " + req.Gateway})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be a positive decimal"})
		return
	}

	p := payment.New(req.Gateway, amount, req.Currency)
	if err := s.payments.Save(c.Request.Context(), p); err != nil {
		s.log.Error("saving payment failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store payment"})
		return
	}
	c.JSON(http.StatusCreated, viewOf(p))
}

func (s *Server) getPayment(c *gin.Context) {
	p, err := s.payments.Get(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(p))
}

type purchaseRequest struct {
	TransactionID string            `json:"transactionId"`
	ClientIP      string            `json:"clientIp"`
	Card          *gateway.Card     `json:"card"`
	Metadata      map[string]string `json:"metadata"`
}

func (s *Server) purchase(c *gin.Context) {
	body, valid := s.validatedBody(c, s.purchaseContract)
	if !valid {
		return
	}
	var req purchaseRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
			return
		}
	}
	if req.ClientIP == "" {
		req.ClientIP = c.ClientIP()
	}

	resp, err := s.service.Purchase(c.Request.Context(), c.Param("identifier"), purchase.Data{
		TransactionID: req.TransactionID,
		ClientIP:      req.ClientIP,
		Card:          req.Card,
		Metadata:      req.Metadata,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeResponse(c, resp)
}

func (s *Server) completePurchase(c *gin.Context) {
	// Gateways append their own parameters to the callback; the adapter
	// reads what it needs from the query string.
	metadata := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			metadata[key] = values[0]
		}
	}

	resp, err := s.service.CompletePurchase(c.Request.Context(), c.Param("identifier"), purchase.Data{
		ClientIP: c.ClientIP(),
		Metadata: metadata,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeResponse(c, resp)
}

func (s *Server) cancelPurchase(c *gin.Context) {
	resp, err := s.service.CancelPurchase(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeResponse(c, resp)
}

func (s *Server) listMessages(c *gin.Context) {
	identifier := c.Param("identifier")
	if _, err := s.payments.Get(c.Request.Context(), identifier); err != nil {
		s.writeError(c, err)
		return
	}
	msgs, err := s.messages.ListByPaymentRef(c.Request.Context(), identifier)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) summary(c *gin.Context) {
	identifier := c.Param("identifier")
	if _, err := s.payments.Get(c.Request.Context(), identifier); err != nil {
		s.writeError(c, err)
		return
	}
	summary, err := s.reporter.Summary(c.Request.Context(), identifier)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// validatedBody reads the request body and checks it against the contract.
// An empty body is allowed; the schemas mark their own required fields.
func (s *Server) validatedBody(c *gin.Context, contract *monitor.ContractMonitor) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return nil, false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	valid, violations, err := contract.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return nil, false
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return nil, false
	}
	return body, true
}

func (s *Server) writeResponse(c *gin.Context, resp *purchase.Response) {
	switch resp.Outcome {
	case purchase.OutcomeRedirect:
		c.JSON(http.StatusOK, viewOfResponse(resp))
	case purchase.OutcomeError:
		c.JSON(http.StatusUnprocessableEntity, viewOfResponse(resp))
	default:
		c.JSON(http.StatusOK, viewOfResponse(resp))
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
	case errors.Is(err, purchase.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, gateway.ErrUnknownGateway):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
