package gateway

import (
	"context"
	"net/http"
	"testing"

	"github.com/crowdpen/payd/config"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const verifyURL = "https://api.paystack.test/transaction/verify/ref_123"

func newTestClient() *PaystackClient {
	return NewPaystackClient(config.PaystackConfig{
		SecretKey:        "sk_test",
		BaseUrl:          "https://api.paystack.test/",
		VerifyTimeoutSec: 2,
	})
}

func TestVerifyTransaction_Success(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, verifyURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer sk_test", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(200, `{
				"status": true,
				"message": "Verification successful",
				"data": {"status": "success", "reference": "ref_123", "amount": 10000, "currency": "ngn"}
			}`), nil
		})

	v, err := newTestClient().VerifyTransaction(context.Background(), "ref_123")
	require.NoError(t, err)
	assert.True(t, v.Successful())
	assert.Equal(t, int64(10000), v.Amount)
	assert.Equal(t, "NGN", v.Currency)
}

func TestVerifyTransaction_RetriesTransientFailures(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, verifyURL,
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(503, `{"status":false}`), nil
			}
			return httpmock.NewStringResponse(200, `{"status":true,"data":{"status":"success","amount":500,"currency":"NGN"}}`), nil
		})

	v, err := newTestClient().VerifyTransaction(context.Background(), "ref_123")
	require.NoError(t, err)
	assert.Equal(t, int64(500), v.Amount)
	assert.Equal(t, 2, calls)
}

func TestVerifyTransaction_PermanentFailure(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, verifyURL,
		httpmock.NewStringResponder(404, `{"status":false,"message":"Transaction reference not found"}`))

	_, err := newTestClient().VerifyTransaction(context.Background(), "ref_123")
	assert.Error(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestVerifyTransaction_NotSuccessful(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, verifyURL,
		httpmock.NewStringResponder(200, `{"status":true,"data":{"status":"abandoned","amount":10000,"currency":"NGN"}}`))

	v, err := newTestClient().VerifyTransaction(context.Background(), "ref_123")
	require.NoError(t, err)
	assert.False(t, v.Successful())
}

func TestVerifyTransaction_EmptyReference(t *testing.T) {
	_, err := newTestClient().VerifyTransaction(context.Background(), "")
	assert.Error(t, err)
}
