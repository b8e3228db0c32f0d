package server

// purchaseSchema is the contract for the purchase and completion bodies. It
// is a whitelist: amount, currency and callback URLs are server-controlled
// and any attempt to supply them is rejected at the edge.
const purchaseSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"transactionId": {"type": "string", "maxLength": 128},
		"clientIp": {"type": "string", "maxLength": 45},
		"card": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"number": {"type": "string", "pattern": "^[0-9]{12,19}$"},
				"expiryMonth": {"type": "string", "pattern": "^(0[1-9]|1[0-2])$"},
				"expiryYear": {"type": "string", "pattern": "^[0-9]{4}$"},
				"cvv": {"type": "string", "pattern": "^[0-9]{3,4}$"},
				"holderName": {"type": "string", "maxLength": 128}
			},
			"required": ["number", "expiryMonth", "expiryYear"]
		},
		"metadata": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	}
}`

// createPaymentSchema is the contract for creating a payment record.
const createPaymentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": false,
	"required": ["gateway", "amount", "currency"],
	"properties": {
		"gateway": {"type": "string", "minLength": 1},
		"amount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]{1,4})?$"},
		"currency": {"type": "string", "pattern": "^[A-Z]{3}$"}
	}
}`
