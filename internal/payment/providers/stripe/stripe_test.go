package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/providers/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMapStatus(t *testing.T) {
	p := New(httpclient.Config{}, zap.NewNop())
	cases := map[string]domain.PaymentStatus{
		"succeeded":       domain.StatusSuccess,
		"requires_action": domain.StatusPending,
		"canceled":        domain.StatusCancelled,
		"payment_failed":  domain.StatusFailed,
		"mystery":         domain.StatusUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, p.MapStatus(raw), raw)
	}
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(500000), MinorUnits(decimal.NewFromInt(5000), "TZS"))
	assert.Equal(t, int64(5000), MinorUnits(decimal.NewFromInt(5000), "UGX"))
	assert.True(t, MajorUnits(1999, "USD").Equal(decimal.RequireFromString("19.99")))
}

func TestCreateOrderAndCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "2500", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			_, _ = w.Write([]byte(`{"id":"pi_123","status":"requires_payment_method","amount":2500,"currency":"usd"}`))
		default:
			assert.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)
			_, _ = w.Write([]byte(`{"id":"pi_123","status":"succeeded","amount":2500,"currency":"usd","created":1700000000}`))
		}
	}))
	defer srv.Close()

	p := New(httpclient.Config{}, zap.NewNop())
	creds := domain.Credentials{SecretKey: "sk_test", BaseURL: srv.URL}

	created := p.CreateOrder(context.Background(), domain.OrderData{Amount: decimal.NewFromInt(25), Currency: "usd"}, creds)
	require.True(t, created.Success, created.Message)
	assert.Equal(t, "pi_123", created.OrderID)

	status := p.CheckStatus(context.Background(), "pi_123", creds)
	require.True(t, status.Success)
	require.Len(t, status.Orders, 1)
	assert.Equal(t, domain.StatusSuccess, status.Orders[0].Status)
	assert.True(t, status.Orders[0].Amount.Equal(decimal.NewFromInt(25)))
}

func TestCreateOrderRequiresSecretKey(t *testing.T) {
	p := New(httpclient.Config{}, zap.NewNop())
	result := p.CreateOrder(context.Background(), domain.OrderData{Amount: decimal.NewFromInt(1)}, domain.Credentials{APIKey: "pk"})
	assert.False(t, result.Success)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(result.Err))
}

func TestParseWebhookVerifiesSignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","created":1700000000,"data":{"object":{"id":"pi_1","amount":2500,"currency":"usd"}}}`)
	headers := http.Header{}
	headers.Set("Stripe-Signature", signatureHeader(secret, payload, time.Now().Unix()))

	p := New(httpclient.Config{}, zap.NewNop())
	n, err := p.ParseWebhook(payload, headers, domain.Credentials{WebhookSecret: secret})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", n.OrderID)
	assert.Equal(t, domain.StatusSuccess, n.Status)
	assert.Equal(t, "1700000000", n.Timestamp)

	headers.Set("Stripe-Signature", signatureHeader("wrong", payload, time.Now().Unix()))
	_, err = p.ParseWebhook(payload, headers, domain.Credentials{WebhookSecret: secret})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = p.ParseWebhook([]byte(`{"id":"evt_2","type":"customer.created","data":{"object":{}}}`), http.Header{}, domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrEventIgnored)
}

func signatureHeader(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, string(payload))))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
