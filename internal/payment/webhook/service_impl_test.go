package webhook_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/smallbiznis/paygate/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/paygate/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/paygate/internal/ledger/service"
	"github.com/smallbiznis/paygate/internal/migration"
	"github.com/smallbiznis/paygate/internal/notify"
	"github.com/smallbiznis/paygate/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/providers/mock"
	"github.com/smallbiznis/paygate/internal/payment/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticProviders struct {
	active paymentdomain.ProviderID
}

func (s staticProviders) ActiveProvider() paymentdomain.ProviderID { return s.active }

func (s staticProviders) Credentials(paymentdomain.ProviderID) paymentdomain.Credentials {
	return paymentdomain.Credentials{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type fixture struct {
	svc      *webhook.Service
	ledger   ledgerdomain.Service
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(db))
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  ledgerrepo.Provide(),
	})
	notifier := &recordingNotifier{}
	svc := webhook.NewService(webhook.Params{
		Log:       zap.NewNop(),
		Registry:  adapters.NewRegistry(mock.New()),
		Providers: staticProviders{active: paymentdomain.ProviderMock},
		Ledger:    ledger,
		Notifier:  notifier,
	})
	return &fixture{svc: svc, ledger: ledger, notifier: notifier}
}

func TestDuplicateDeliveryAppliedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	payload := []byte(`{"orderId":"ORD-9","status":"completed","timestamp":"2024-05-01T10:00:00Z","amount":"5000"}`)

	first, err := f.svc.Ingest(ctx, "mock", payload, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.WebhookStateProcessed, first.State)
	assert.False(t, first.Duplicate)

	tx, err := f.ledger.GetTransaction(ctx, paymentdomain.ProviderMock, "ORD-9")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, paymentdomain.StatusSuccess, tx.Status)
	updatedAt := tx.UpdatedAt

	second, err := f.svc.Ingest(ctx, "mock", payload, http.Header{})
	require.NoError(t, err)
	assert.NotEqual(t, first.WebhookID, second.WebhookID)
	assert.Equal(t, ledgerdomain.WebhookStateDuplicate, second.State)
	assert.True(t, second.Duplicate)

	again, err := f.ledger.GetTransaction(ctx, paymentdomain.ProviderMock, "ORD-9")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)
	assert.Equal(t, paymentdomain.StatusSuccess, again.Status)
	assert.True(t, updatedAt.Equal(again.UpdatedAt))

	stored, err := f.ledger.GetWebhook(ctx, second.WebhookID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, ledgerdomain.WebhookStateDuplicate, stored.State)
	assert.True(t, stored.Processed)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventPaymentSucceeded, events[0].Type)
	assert.Equal(t, "ORD-9", events[0].OrderID)
}

func TestMalformedPayloadNeedsReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	receipt, err := f.svc.Ingest(ctx, "mock", []byte(`{not json`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.WebhookStateNeedsReview, receipt.State)
	assert.NotEmpty(t, receipt.Reason)

	stored, err := f.ledger.GetWebhook(ctx, receipt.WebhookID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, `{not json`, stored.Payload)
	assert.Equal(t, ledgerdomain.WebhookStateNeedsReview, stored.State)

	receipt, err = f.svc.Ingest(ctx, "mock", []byte(`{"hello":"world"}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.WebhookStateNeedsReview, receipt.State)
	assert.Empty(t, f.notifier.Events())
}

func TestUnregisteredHintIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	receipt, err := f.svc.Ingest(ctx, "Acme", []byte(`{"orderId":"ORD-1","status":"completed"}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "acme", receipt.Provider)
	assert.Equal(t, ledgerdomain.WebhookStateNeedsReview, receipt.State)
	assert.Equal(t, "unregistered provider", receipt.Reason)

	tx, err := f.ledger.GetTransactionByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestProviderFromBodyAndActiveFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	receipt, err := f.svc.Ingest(ctx, "", []byte(`{"provider":"mock","order_id":"ORD-2","payment_status":"pending","timestamp":"1"}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "mock", receipt.Provider)
	assert.Equal(t, ledgerdomain.WebhookStateProcessed, receipt.State)

	receipt, err = f.svc.Ingest(ctx, "", []byte(`{"order_id":"ORD-2","payment_status":"failed","timestamp":"2"}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "mock", receipt.Provider)
	assert.Equal(t, ledgerdomain.WebhookStateProcessed, receipt.State)

	tx, err := f.ledger.GetTransaction(ctx, paymentdomain.ProviderMock, "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFailed, tx.Status)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventPaymentFailed, events[0].Type)
}

func TestStaleDeliveryDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Ingest(ctx, "mock", []byte(`{"orderId":"ORD-3","status":"completed","timestamp":"2"}`), http.Header{})
	require.NoError(t, err)
	receipt, err := f.svc.Ingest(ctx, "mock", []byte(`{"orderId":"ORD-3","status":"pending","timestamp":"1"}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.WebhookStateProcessed, receipt.State)

	tx, err := f.ledger.GetTransaction(ctx, paymentdomain.ProviderMock, "ORD-3")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSuccess, tx.Status)
	assert.Len(t, f.notifier.Events(), 1)
}

func TestDedupeKeyStable(t *testing.T) {
	a := webhook.DedupeKey(paymentdomain.ProviderMock, "ORD", paymentdomain.StatusSuccess, "t1")
	assert.Equal(t, a, webhook.DedupeKey(paymentdomain.ProviderMock, " ORD ", paymentdomain.StatusSuccess, "t1"))
	assert.NotEqual(t, a, webhook.DedupeKey(paymentdomain.ProviderMock, "ORD", paymentdomain.StatusSuccess, "t2"))
	assert.Len(t, a, 64)
}
