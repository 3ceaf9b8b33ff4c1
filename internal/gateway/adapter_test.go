package gateway

import (
	"testing"

	"github.com/crowdpen/payd/config"
	"github.com/crowdpen/payd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaystackParsePayment(t *testing.T) {
	a := NewPaystackAdapter(testSecret, true)
	body := []byte(`{
		"event": "charge.success",
		"data": {
			"status": "success",
			"reference": "ref_123",
			"amount": 10000,
			"currency": "ngn",
			"metadata": {"orderId": "ord_1", "order_number": "CP-1001"},
			"customer": {"email": "buyer@example.com"}
		}
	}`)

	assert.False(t, a.IsTransfer(body))
	event := a.ParsePayment(body)
	assert.Equal(t, model.EventSuccess, event.Kind)
	assert.Equal(t, "ord_1", event.OrderID)
	assert.Equal(t, "CP-1001", event.OrderNumber)
	assert.Equal(t, "ref_123", event.GatewayRef)
	assert.Equal(t, "NGN", event.Currency)
	require.NotNil(t, event.Amount)
	assert.Equal(t, int64(10000), *event.Amount)
	assert.Equal(t, "buyer@example.com", event.CustomerEmail)
}

func TestPaystackParsePayment_StringMetadata(t *testing.T) {
	a := NewPaystackAdapter(testSecret, true)
	event := a.ParsePayment([]byte(`{"event":"charge.failed","data":{"reference":"ref_1","metadata":""}}`))
	assert.Equal(t, model.EventFailure, event.Kind)
	assert.Empty(t, event.OrderID)
	assert.True(t, event.HasLookupKey())
}

func TestPaystackParsePayment_Malformed(t *testing.T) {
	a := NewPaystackAdapter(testSecret, true)
	event := a.ParsePayment([]byte(`{not json`))
	assert.Equal(t, model.EventUnrecognized, event.Kind)
	assert.False(t, event.HasLookupKey())
}

func TestPaystackTransfer(t *testing.T) {
	a := NewPaystackAdapter(testSecret, true)

	tests := []struct {
		body string
		want model.TransferStatus
	}{
		{`{"event":"transfer.success","data":{"reference":"po_1","transfer_code":"TRF_1","amount":5000}}`, model.TransferCompleted},
		{`{"event":"transfer.failed","data":{"reference":"po_1"}}`, model.TransferFailed},
		{`{"event":"transfer.reversed","data":{"reference":"po_1"}}`, model.TransferReversed},
		{`{"event":"transfer.updated","data":{"status":"otp"}}`, model.TransferPending},
		{`{"event":"transfer.weird","data":{}}`, model.TransferUnrecognized},
	}
	for _, tt := range tests {
		assert.True(t, a.IsTransfer([]byte(tt.body)))
		assert.Equal(t, tt.want, a.ParseTransfer([]byte(tt.body)).Status, tt.body)
	}

	event := a.ParseTransfer([]byte(tests[0].body))
	assert.Equal(t, "po_1", event.Reference)
	assert.Equal(t, "TRF_1", event.TransferCode)
}

func TestStartbuttonParsePayment(t *testing.T) {
	a := NewStartbuttonAdapter(testSecret, true)
	body := []byte(`{
		"event": "collection.completed",
		"data": {
			"transaction": {
				"status": "successful",
				"transactionReference": "sb_1",
				"userTransactionReference": "ref_1",
				"amount": 250000,
				"currency": "GHS",
				"exchangeRate": "12.5",
				"customerEmail": "buyer@example.com"
			},
			"metadata": {"orderId": "ord_9"}
		}
	}`)

	event := a.ParsePayment(body)
	assert.Equal(t, model.EventSuccess, event.Kind)
	assert.Equal(t, "ref_1", event.GatewayRef)
	assert.Equal(t, "ord_9", event.OrderID)
	require.NotNil(t, event.FxRate)
	assert.Equal(t, "12.5", event.FxRate.String())
}

func TestStartbuttonClassification(t *testing.T) {
	assert.Equal(t, model.EventFailure, classifyStartbuttonCollection("", "declined"))
	assert.Equal(t, model.EventUnrecognized, classifyStartbuttonCollection("collection.pending", "pending"))
	assert.Equal(t, model.TransferCompleted, classifyStartbuttonTransfer("payout.successful", ""))
	assert.Equal(t, model.TransferPending, classifyStartbuttonTransfer("", "initiated"))
}

func TestRegistry(t *testing.T) {
	cfg := &config.Configuration{Environment: config.EnvProduction}
	cfg.Gateways.Paystack.SecretKey = "a"
	cfg.Gateways.Startbutton.WebhookSecret = "b"

	r := NewRegistryFromConfig(cfg)
	a, err := r.Get("Paystack")
	require.NoError(t, err)
	assert.Equal(t, Paystack, a.Name())

	_, err = r.Get("stripe")
	assert.ErrorIs(t, err, ErrUnknownGateway)
}
