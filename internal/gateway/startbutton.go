package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/crowdpen/payd/model"
	"github.com/shopspring/decimal"
)

type startbuttonEnvelope struct {
	Event string          `json:"event"`
	Data  startbuttonData `json:"data"`
}

type startbuttonData struct {
	Transaction startbuttonTransaction `json:"transaction"`
	Metadata    json.RawMessage        `json:"metadata"`
}

type startbuttonTransaction struct {
	Status                   string           `json:"status"`
	TransactionReference     string           `json:"transactionReference"`
	UserTransactionReference string           `json:"userTransactionReference"`
	TransferCode             string           `json:"transferCode"`
	Amount                   *int64           `json:"amount"`
	Currency                 string           `json:"currency"`
	ExchangeRate             *decimal.Decimal `json:"exchangeRate"`
	CustomerEmail            string           `json:"customerEmail"`
	Reason                   string           `json:"reason"`
}

// reference prefers the merchant-supplied reference, which is what payd
// stores, over the gateway's own.
func (t startbuttonTransaction) reference() string {
	if t.UserTransactionReference != "" {
		return t.UserTransactionReference
	}
	return t.TransactionReference
}

// StartbuttonAdapter handles startbutton callbacks.
type StartbuttonAdapter struct {
	secret     string
	production bool
}

func NewStartbuttonAdapter(secret string, production bool) *StartbuttonAdapter {
	return &StartbuttonAdapter{secret: secret, production: production}
}

func (a *StartbuttonAdapter) Name() string { return Startbutton }

func (a *StartbuttonAdapter) Verify(body []byte, headers http.Header) error {
	return VerifyStartbutton(body, headers, a.secret, a.production)
}

func (a *StartbuttonAdapter) IsTransfer(body []byte) bool {
	var env startbuttonEnvelope
	decodeLenient(body, &env)
	event := normalize(env.Event)
	return strings.HasPrefix(event, "transfer.") || strings.HasPrefix(event, "payout.")
}

func (a *StartbuttonAdapter) ParsePayment(body []byte) model.PaymentEvent {
	var env startbuttonEnvelope
	decodeLenient(body, &env)

	txn := env.Data.Transaction
	meta := decodeMetadata(env.Data.Metadata)
	return model.PaymentEvent{
		Gateway:       Startbutton,
		Kind:          classifyStartbuttonCollection(env.Event, txn.Status),
		RawEvent:      env.Event,
		OrderID:       metaString(meta, "orderId", "order_id"),
		OrderNumber:   metaString(meta, "orderNumber", "order_number"),
		GatewayRef:    txn.reference(),
		Amount:        txn.Amount,
		Currency:      strings.ToUpper(txn.Currency),
		FxRate:        txn.ExchangeRate,
		CustomerEmail: txn.CustomerEmail,
		Metadata:      meta,
	}
}

func (a *StartbuttonAdapter) ParseTransfer(body []byte) model.TransferEvent {
	var env startbuttonEnvelope
	decodeLenient(body, &env)

	txn := env.Data.Transaction
	meta := decodeMetadata(env.Data.Metadata)
	return model.TransferEvent{
		Gateway:       Startbutton,
		Status:        classifyStartbuttonTransfer(env.Event, txn.Status),
		RawEvent:      env.Event,
		Reference:     txn.reference(),
		TransferCode:  txn.TransferCode,
		TransactionID: metaString(meta, "transactionId", "transaction_id"),
		Amount:        txn.Amount,
		Currency:      strings.ToUpper(txn.Currency),
		Reason:        txn.Reason,
		Metadata:      meta,
	}
}

func classifyStartbuttonCollection(event, status string) model.EventKind {
	switch normalize(event) {
	case "collection.completed", "collection.verified", "payment.successful":
		return model.EventSuccess
	case "collection.failed", "payment.failed":
		return model.EventFailure
	}
	switch normalize(status) {
	case "successful", "success", "completed", "verified":
		return model.EventSuccess
	case "failed", "cancelled", "declined", "abandoned":
		return model.EventFailure
	}
	return model.EventUnrecognized
}

func classifyStartbuttonTransfer(event, status string) model.TransferStatus {
	switch normalize(event) {
	case "transfer.completed", "transfer.successful", "payout.successful":
		return model.TransferCompleted
	case "transfer.failed", "payout.failed":
		return model.TransferFailed
	case "transfer.reversed", "payout.reversed":
		return model.TransferReversed
	}
	switch normalize(status) {
	case "successful", "success", "completed":
		return model.TransferCompleted
	case "failed", "declined":
		return model.TransferFailed
	case "reversed":
		return model.TransferReversed
	case "pending", "processing", "initiated":
		return model.TransferPending
	}
	return model.TransferUnrecognized
}
