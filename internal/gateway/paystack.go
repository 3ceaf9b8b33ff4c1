package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/crowdpen/payd/model"
)

type paystackEnvelope struct {
	Event string       `json:"event"`
	Data  paystackData `json:"data"`
}

type paystackData struct {
	Status       string          `json:"status"`
	Reference    string          `json:"reference"`
	TransferCode string          `json:"transfer_code"`
	Amount       *int64          `json:"amount"`
	Currency     string          `json:"currency"`
	Reason       string          `json:"reason"`
	Metadata     json.RawMessage `json:"metadata"`
	Customer     struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// PaystackAdapter handles paystack callbacks. Charge and transfer events
// arrive on the same URL.
type PaystackAdapter struct {
	secret     string
	production bool
}

func NewPaystackAdapter(secret string, production bool) *PaystackAdapter {
	return &PaystackAdapter{secret: secret, production: production}
}

func (a *PaystackAdapter) Name() string { return Paystack }

func (a *PaystackAdapter) Verify(body []byte, headers http.Header) error {
	return VerifyPaystack(body, headers, a.secret, a.production)
}

func (a *PaystackAdapter) IsTransfer(body []byte) bool {
	var env paystackEnvelope
	decodeLenient(body, &env)
	return strings.HasPrefix(normalize(env.Event), "transfer.")
}

func (a *PaystackAdapter) ParsePayment(body []byte) model.PaymentEvent {
	var env paystackEnvelope
	decodeLenient(body, &env)

	meta := decodeMetadata(env.Data.Metadata)
	return model.PaymentEvent{
		Gateway:       Paystack,
		Kind:          classifyPaystackCharge(env.Event, env.Data.Status),
		RawEvent:      env.Event,
		OrderID:       metaString(meta, "orderId", "order_id"),
		OrderNumber:   metaString(meta, "orderNumber", "order_number"),
		GatewayRef:    env.Data.Reference,
		Amount:        env.Data.Amount,
		Currency:      strings.ToUpper(env.Data.Currency),
		CustomerEmail: env.Data.Customer.Email,
		Metadata:      meta,
	}
}

func (a *PaystackAdapter) ParseTransfer(body []byte) model.TransferEvent {
	var env paystackEnvelope
	decodeLenient(body, &env)

	meta := decodeMetadata(env.Data.Metadata)
	return model.TransferEvent{
		Gateway:       Paystack,
		Status:        classifyPaystackTransfer(env.Event, env.Data.Status),
		RawEvent:      env.Event,
		Reference:     env.Data.Reference,
		TransferCode:  env.Data.TransferCode,
		TransactionID: metaString(meta, "transactionId", "transaction_id"),
		Amount:        env.Data.Amount,
		Currency:      strings.ToUpper(env.Data.Currency),
		Reason:        env.Data.Reason,
		Metadata:      meta,
	}
}

func classifyPaystackCharge(event, status string) model.EventKind {
	switch normalize(event) {
	case "charge.success":
		return model.EventSuccess
	case "charge.failed":
		return model.EventFailure
	}
	switch normalize(status) {
	case "success":
		return model.EventSuccess
	case "failed", "abandoned":
		return model.EventFailure
	}
	return model.EventUnrecognized
}

func classifyPaystackTransfer(event, status string) model.TransferStatus {
	switch normalize(event) {
	case "transfer.success":
		return model.TransferCompleted
	case "transfer.failed":
		return model.TransferFailed
	case "transfer.reversed":
		return model.TransferReversed
	}
	switch normalize(status) {
	case "success":
		return model.TransferCompleted
	case "failed":
		return model.TransferFailed
	case "reversed":
		return model.TransferReversed
	case "pending", "otp", "processing", "received":
		return model.TransferPending
	}
	return model.TransferUnrecognized
}
