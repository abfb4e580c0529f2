package paypal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/providers/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateOrderCachesToken(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			atomic.AddInt32(&tokenCalls, 1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client", user)
			assert.Equal(t, "secret", pass)
			_, _ = w.Write([]byte(`{"access_token":"A21","expires_in":32400}`))
		case "/v2/checkout/orders":
			assert.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"id":"5O190127TN364715T","status":"CREATED"}`))
		case "/v2/checkout/orders/5O190127TN364715T":
			_, _ = w.Write([]byte(`{"id":"5O190127TN364715T","status":"COMPLETED","create_time":"2025-08-30T10:00:00Z","purchase_units":[{"reference_id":"ORD-5","amount":{"currency_code":"USD","value":"12.50"}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := New(httpclient.Config{}, zap.NewNop())
	creds := domain.Credentials{APIKey: "client", SecretKey: "secret", BaseURL: srv.URL}

	created := p.CreateOrder(context.Background(), domain.OrderData{Amount: decimal.RequireFromString("12.5"), Currency: "USD", OrderID: "ORD-5"}, creds)
	require.True(t, created.Success, created.Message)
	assert.Equal(t, "5O190127TN364715T", created.OrderID)

	status := p.CheckStatus(context.Background(), created.OrderID, creds)
	require.True(t, status.Success, status.Message)
	assert.Equal(t, domain.StatusSuccess, status.Orders[0].Status)
	assert.Equal(t, "ORD-5", status.Orders[0].Reference)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestMapStatus(t *testing.T) {
	p := New(httpclient.Config{}, zap.NewNop())
	assert.Equal(t, domain.StatusPending, p.MapStatus("PAYER_ACTION_REQUIRED"))
	assert.Equal(t, domain.StatusCancelled, p.MapStatus("VOIDED"))
	assert.Equal(t, domain.StatusUnknown, p.MapStatus("PARTIALLY_REFUNDED"))
}

func TestParseCaptureWebhookUsesRelatedOrder(t *testing.T) {
	p := New(httpclient.Config{}, zap.NewNop())
	payload := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","create_time":"2025-08-30T10:00:00Z","resource":{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"12.50"},"supplementary_data":{"related_ids":{"order_id":"5O190127TN364715T"}}}}`)

	n, err := p.ParseWebhook(payload, http.Header{}, domain.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "5O190127TN364715T", n.OrderID)
	assert.Equal(t, domain.StatusSuccess, n.Status)
}
