package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/ledger/domain"
	"github.com/smallbiznis/paygate/internal/ledger/repository"
	"github.com/smallbiznis/paygate/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.PaymentTransaction{}, &domain.PaymentWebhook{}, &domain.WebhookDeliveryKey{}))
	return db
}

func newLedger(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return service.NewService(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
	})
}

func TestUpsertTransactionMonotonic(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t, setupTestDB(t))

	created, outcome, err := ledger.UpsertTransaction(ctx, domain.TransactionUpsert{
		Provider: paymentdomain.ProviderZenoPay,
		OrderID:  "ORD-1",
		Status:   paymentdomain.StatusPending,
		Amount:   decimal.NewFromInt(5000),
		Currency: "tzs",
		SaleID:   "SALE-9",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, outcome)
	assert.Equal(t, paymentdomain.StatusPending, created.Status)
	assert.Equal(t, "TZS", created.Currency)

	updated, outcome, err := ledger.UpsertTransaction(ctx, domain.TransactionUpsert{
		Provider: paymentdomain.ProviderZenoPay,
		OrderID:  "ORD-1",
		Status:   paymentdomain.StatusSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, outcome)
	assert.Equal(t, paymentdomain.StatusSuccess, updated.Status)
	require.NotNil(t, updated.CompletedAt)

	for _, late := range []paymentdomain.PaymentStatus{paymentdomain.StatusPending, paymentdomain.StatusUnknown, paymentdomain.StatusSuccess} {
		_, outcome, err = ledger.UpsertTransaction(ctx, domain.TransactionUpsert{
			Provider: paymentdomain.ProviderZenoPay,
			OrderID:  "ORD-1",
			Status:   late,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeUnchanged, outcome, "status %s", late)
	}

	stored, err := ledger.GetTransactionByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, paymentdomain.StatusSuccess, stored.Status)
	assert.True(t, stored.Amount.Equal(decimal.NewFromInt(5000)))
	require.NotNil(t, stored.SaleID)
	assert.Equal(t, "SALE-9", *stored.SaleID)
}

func TestUpsertTransactionCorrectsTerminal(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t, setupTestDB(t))

	_, _, err := ledger.UpsertTransaction(ctx, domain.TransactionUpsert{Provider: paymentdomain.ProviderMock, OrderID: "ORD-2", Status: paymentdomain.StatusFailed})
	require.NoError(t, err)

	tx, outcome, err := ledger.UpsertTransaction(ctx, domain.TransactionUpsert{Provider: paymentdomain.ProviderMock, OrderID: "ORD-2", Status: paymentdomain.StatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, outcome)
	assert.Equal(t, paymentdomain.StatusSuccess, tx.Status)
}

func TestUpsertTransactionValidates(t *testing.T) {
	ledger := newLedger(t, setupTestDB(t))
	_, _, err := ledger.UpsertTransaction(context.Background(), domain.TransactionUpsert{Provider: paymentdomain.ProviderMock})
	assert.ErrorIs(t, err, domain.ErrInvalidOrderID)
	_, _, err = ledger.UpsertTransaction(context.Background(), domain.TransactionUpsert{OrderID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)
}

func TestDeliveryKeyClaim(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t, setupTestDB(t))

	webhook, err := ledger.RecordWebhook(ctx, "ZenoPay", []byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, "zenopay", webhook.Provider)
	assert.Equal(t, domain.WebhookStateReceived, webhook.State)

	claimed, err := ledger.ClaimDeliveryKey(ctx, "k1", webhook.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = ledger.ClaimDeliveryKey(ctx, "k1", webhook.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, ledger.ReleaseDeliveryKey(ctx, "k1"))
	claimed, err = ledger.ClaimDeliveryKey(ctx, "k1", webhook.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMarkWebhook(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t, setupTestDB(t))

	webhook, err := ledger.RecordWebhook(ctx, "mock", []byte(`{"orderId":"A"}`))
	require.NoError(t, err)

	require.NoError(t, ledger.MarkWebhook(ctx, webhook.ID, domain.WebhookUpdate{
		State:   domain.WebhookStateNeedsReview,
		Reason:  "missing status",
		OrderID: "A",
	}))

	stored, err := ledger.GetWebhook(ctx, webhook.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.WebhookStateNeedsReview, stored.State)
	assert.False(t, stored.Processed)
	require.NotNil(t, stored.Reason)
	assert.Equal(t, "missing status", *stored.Reason)
	assert.NotNil(t, stored.ProcessedAt)

	err = ledger.MarkWebhook(ctx, snowflake.ID(42), domain.WebhookUpdate{State: domain.WebhookStateProcessed})
	assert.ErrorIs(t, err, domain.ErrWebhookNotFound)
}
