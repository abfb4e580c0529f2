package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderID(t *testing.T) {
	id, err := ParseProviderID("  ZenoPay ")
	require.NoError(t, err)
	assert.Equal(t, ProviderZenoPay, id)

	_, err = ParseProviderID("mpesa")
	assert.ErrorIs(t, err, ErrInvalidProvider)
}

func TestOrderDataNormalizeDefaultsCurrency(t *testing.T) {
	order := OrderData{Amount: decimal.NewFromInt(5000)}.Normalize()
	assert.Equal(t, "TZS", order.Currency)
	require.NoError(t, order.Validate())

	assert.ErrorIs(t, OrderData{Amount: decimal.Zero, Currency: "TZS"}.Validate(), ErrInvalidAmount)
	assert.ErrorIs(t, OrderData{Amount: decimal.NewFromInt(1), Currency: "TZSH"}.Validate(), ErrInvalidCurrency)
}

func TestStatusTableIsTotal(t *testing.T) {
	table := StatusTable{"completed": StatusSuccess, "pending": StatusPending}
	assert.Equal(t, StatusSuccess, table.Map("COMPLETED"))
	assert.Equal(t, StatusPending, table.Map(" pending "))
	assert.Equal(t, StatusUnknown, table.Map("settling"))
	assert.Equal(t, StatusUnknown, table.Map(""))
}

func TestCredentialsMerge(t *testing.T) {
	stored := Credentials{APIKey: "override"}
	env := Credentials{APIKey: "env", SecretKey: "secret", BaseURL: "https://example.test"}

	merged := stored.Merge(env)
	assert.Equal(t, Credentials{APIKey: "override", SecretKey: "secret", BaseURL: "https://example.test"}, merged)
}

func TestDescriptorFeeAndLimits(t *testing.T) {
	desc := ProviderDescriptor{
		Fees:   Fees{Percentage: decimal.RequireFromString("1.5"), Fixed: decimal.NewFromInt(50)},
		Limits: Limits{MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(1000000)},
	}
	assert.True(t, desc.Fee(decimal.NewFromInt(10000)).Equal(decimal.NewFromInt(200)))
	assert.ErrorIs(t, desc.CheckLimits(decimal.NewFromInt(50)), ErrAmountOutOfRange)
	assert.NoError(t, desc.CheckLimits(decimal.NewFromInt(5000)))
}

func TestErrorKind(t *testing.T) {
	err := fmt.Errorf("create order: %w", TransportError(ProviderZenoPay, "create_order", errors.New("dial tcp: timeout")))
	assert.Equal(t, KindTransport, KindOf(err))
	assert.True(t, IsKind(err, KindTransport))
	assert.False(t, IsKind(err, KindVendor))
	assert.ErrorIs(t, ConfigurationError(ProviderStripe, "create_order", "secret key missing"), ErrMissingCredentials)
}
