package mock

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderGeneratesReference(t *testing.T) {
	p := New()
	res := p.CreateOrder(context.Background(), domain.OrderData{Amount: decimal.NewFromInt(5000), Currency: "TZS"}, domain.Credentials{})
	require.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.OrderID, "MOCK-"))
	assert.NoError(t, res.Err)
}

func TestCreateOrderRejectsZeroAmount(t *testing.T) {
	res := New().CreateOrder(context.Background(), domain.OrderData{}, domain.Credentials{})
	assert.False(t, res.Success)
	assert.Empty(t, res.OrderID)
	assert.True(t, domain.IsKind(res.Err, domain.KindValidation))
}

func TestScriptedSequenceRepeatsLastValue(t *testing.T) {
	p := New(WithStatusSequence("ORD-1", "pending", "pending", "completed"))
	ctx := context.Background()

	var got []domain.PaymentStatus
	for i := 0; i < 5; i++ {
		res := p.CheckStatus(ctx, "ORD-1", domain.Credentials{})
		require.True(t, res.Success)
		got = append(got, res.Orders[0].Status)
	}
	assert.Equal(t, []domain.PaymentStatus{
		domain.StatusPending, domain.StatusPending, domain.StatusSuccess, domain.StatusSuccess, domain.StatusSuccess,
	}, got)
}

func TestUnknownOrder(t *testing.T) {
	res := New().CheckStatus(context.Background(), "nope", domain.Credentials{})
	assert.False(t, res.Success)
	assert.Equal(t, domain.ResultFail, res.Result)
	assert.True(t, domain.IsKind(res.Err, domain.KindVendor))
}

func TestTriggerPushRegistersOrder(t *testing.T) {
	p := New(WithDefaultSequence("pending"))
	ack := p.TriggerPush(context.Background(), domain.PushRequest{OrderID: "ORD-2", Phone: "255700000000", Amount: decimal.NewFromInt(100)}, domain.Credentials{})
	require.True(t, ack.Accepted)
	require.Len(t, p.Pushes(), 1)

	res := p.CheckStatus(context.Background(), "ORD-2", domain.Credentials{})
	assert.Equal(t, domain.StatusPending, res.Orders[0].Status)
	assert.Equal(t, "255700000000", res.Orders[0].BuyerPhone)
}

func TestParseWebhookAcceptsBothSpellings(t *testing.T) {
	p := New()
	n, err := p.ParseWebhook([]byte(`{"orderId":"A","status":"completed","timestamp":"t1"}`), nil, domain.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "A", n.OrderID)
	assert.Equal(t, domain.StatusSuccess, n.Status)

	n, err = p.ParseWebhook([]byte(`{"order_id":"B","payment_status":"FAILED"}`), nil, domain.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, n.Status)

	_, err = p.ParseWebhook([]byte(`{"status":"completed"}`), nil, domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestMapStatusTotal(t *testing.T) {
	p := New()
	for raw, want := range map[string]domain.PaymentStatus{
		"pending":   domain.StatusPending,
		"COMPLETED": domain.StatusSuccess,
		"failed":    domain.StatusFailed,
		"cancelled": domain.StatusCancelled,
		"weird":     domain.StatusUnknown,
		"":          domain.StatusUnknown,
	} {
		assert.Equal(t, want, p.MapStatus(raw), raw)
	}
}
