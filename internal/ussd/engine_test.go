package ussd

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/config"
	ledgerdomain "github.com/smallbiznis/paygate/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/paygate/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/paygate/internal/ledger/service"
	"github.com/smallbiznis/paygate/internal/migration"
	"github.com/smallbiznis/paygate/internal/notify"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/providers/mock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type pushProviders struct {
	provider paymentdomain.PushProvider
}

func (p pushProviders) ActiveProvider() paymentdomain.ProviderID { return p.provider.ID() }

func (p pushProviders) PushProvider(id paymentdomain.ProviderID) (paymentdomain.PushProvider, error) {
	if id != p.provider.ID() {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	return p.provider, nil
}

func (p pushProviders) Credentials(paymentdomain.ProviderID) paymentdomain.Credentials {
	return paymentdomain.Credentials{}
}

// rejectingProvider fails every trigger with a transport error.
type rejectingProvider struct {
	*mock.Provider
	checks int
	mu     sync.Mutex
}

func (r *rejectingProvider) TriggerPush(context.Context, paymentdomain.PushRequest, paymentdomain.Credentials) paymentdomain.PushAck {
	err := paymentdomain.TransportError(paymentdomain.ProviderMock, "trigger_push", context.DeadlineExceeded)
	return paymentdomain.PushAck{Message: "gateway timeout", Err: err}
}

func (r *rejectingProvider) CheckStatus(ctx context.Context, orderID string, creds paymentdomain.Credentials) paymentdomain.StatusResult {
	r.mu.Lock()
	r.checks++
	r.mu.Unlock()
	return r.Provider.CheckStatus(ctx, orderID, creds)
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

type harness struct {
	engine   *Engine
	ledger   ledgerdomain.Service
	notifier *recordingNotifier
	registry *prometheus.Registry
}

func newHarness(t *testing.T, provider paymentdomain.PushProvider, c clock.Clock, ussd config.USSDConfig) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(db))
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	cfg := config.DefaultPaymentsConfig()
	cfg.USSD = ussd
	h := &harness{
		ledger: ledgerservice.NewService(ledgerservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
			Repo:  ledgerrepo.Provide(),
		}),
		notifier: &recordingNotifier{},
		registry: prometheus.NewRegistry(),
	}
	h.engine = NewEngine(Params{
		Log:            zap.NewNop(),
		Clock:          c,
		Providers:      pushProviders{provider: provider},
		Ledger:         h.ledger,
		Guard:          NewMemoryGuard(),
		Holder:         config.NewStaticPaymentsConfigHolder(cfg),
		Notifier:       h.notifier,
		PaymentMetrics: obsmetrics.NewPaymentMetrics(h.registry, obsmetrics.Config{}),
	})
	return h
}

func (h *harness) inFlight(t *testing.T) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == "paygate_ussd_sessions_in_flight" {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("in-flight gauge not registered")
	return 0
}

func fastUSSD(interval, timeout time.Duration) config.USSDConfig {
	return config.USSDConfig{
		PollInterval:   interval,
		Timeout:        timeout,
		TriggerTimeout: time.Second,
		RequestTimeout: time.Second,
	}
}

func pushRequest(orderID string) paymentdomain.PushRequest {
	return paymentdomain.PushRequest{
		OrderID:  orderID,
		Phone:    "255700000001",
		Amount:   decimal.NewFromInt(5000),
		Currency: "TZS",
	}
}

func TestPushCompletesAfterScriptedPolls(t *testing.T) {
	ctx := context.Background()
	provider := mock.New(mock.WithStatusSequence("ORD-B", "pending", "pending", "completed"))
	h := newHarness(t, provider, clock.NewAutoClock(time.Unix(0, 0)), fastUSSD(5*time.Second, 5*time.Minute))

	var updates []Update
	outcome, err := h.engine.Push(ctx, pushRequest("ORD-B"), func(u Update) { updates = append(updates, u) })
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, outcome.State)
	assert.Equal(t, paymentdomain.StatusSuccess, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	require.Len(t, updates, 3)
	for i, u := range updates {
		assert.Equal(t, i+1, u.Attempt)
	}
	assert.Equal(t, paymentdomain.StatusPending, updates[0].Status)
	assert.Equal(t, paymentdomain.StatusSuccess, updates[2].Status)

	tx, err := h.ledger.GetTransaction(ctx, paymentdomain.ProviderMock, "ORD-B")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, paymentdomain.StatusSuccess, tx.Status)

	events := h.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventPaymentSucceeded, events[0].Type)
	assert.Len(t, provider.Pushes(), 1)
}

func TestPushTimesOutWhenNeverResolved(t *testing.T) {
	ctx := context.Background()
	provider := mock.New(mock.WithStatusSequence("ORD-C", "pending"))
	h := newHarness(t, provider, clock.NewAutoClock(time.Unix(0, 0)), fastUSSD(5*time.Second, 15*time.Second))

	outcome, err := h.engine.Push(ctx, pushRequest("ORD-C"), nil)
	require.NoError(t, err)
	assert.Equal(t, StateTimeout, outcome.State)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, MessageTimeout, outcome.Message)
	require.NotNil(t, outcome.EndedAt)
	assert.LessOrEqual(t, outcome.EndedAt.Sub(outcome.StartedAt), 20*time.Second)

	tx, err := h.ledger.GetTransaction(ctx, paymentdomain.ProviderMock, "ORD-C")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPending, tx.Status)

	events := h.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventPushTimedOut, events[0].Type)
	assert.Equal(t, 3, events[0].Attempts)
}

func TestPushStopsOnFirstTerminalStatus(t *testing.T) {
	provider := mock.New(mock.WithStatusSequence("ORD-F", "failed", "completed"))
	h := newHarness(t, provider, clock.NewAutoClock(time.Unix(0, 0)), fastUSSD(5*time.Second, time.Minute))

	outcome, err := h.engine.Push(context.Background(), pushRequest("ORD-F"), nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, MessageDeclined, outcome.Message)

	provider = mock.New(mock.WithStatusSequence("ORD-X", "cancelled"))
	h = newHarness(t, provider, clock.NewAutoClock(time.Unix(0, 0)), fastUSSD(5*time.Second, time.Minute))
	outcome, err = h.engine.Push(context.Background(), pushRequest("ORD-X"), nil)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, outcome.State)
	assert.Equal(t, MessageCancelled, outcome.Message)
}

func TestSecondStartRejectedWhileInFlight(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFakeClock(time.Unix(0, 0))
	provider := mock.New(mock.WithStatusSequence("ORD-G", "pending", "completed"))
	h := newHarness(t, provider, fake, fastUSSD(5*time.Second, time.Minute))

	session, err := h.engine.Start(ctx, pushRequest("ORD-G"), nil)
	require.NoError(t, err)

	_, err = h.engine.Start(ctx, pushRequest("ORD-G"), nil)
	assert.ErrorIs(t, err, ErrAlreadyInFlight)
	assert.Equal(t, 1.0, h.inFlight(t))

	for session.Snapshot().State != StateCompleted {
		require.Eventually(t, func() bool { return fake.Waiters() > 0 }, time.Second, time.Millisecond)
		fake.Advance(5 * time.Second)
		select {
		case <-session.Done():
		case <-time.After(50 * time.Millisecond):
		}
	}
	assert.Equal(t, 0.0, h.inFlight(t))

	again, err := h.engine.Start(ctx, pushRequest("ORD-G"), nil)
	require.NoError(t, err)
	_, err = h.engine.Cancel("ORD-G")
	require.NoError(t, err)
	outcome, err := again.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, outcome.State)
}

func TestTriggerFailureEndsWithoutPolling(t *testing.T) {
	provider := &rejectingProvider{Provider: mock.New()}
	h := newHarness(t, provider, clock.NewAutoClock(time.Unix(0, 0)), fastUSSD(5*time.Second, time.Minute))

	outcome, err := h.engine.Push(context.Background(), pushRequest("ORD-T"), nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, 0, outcome.Attempts)
	assert.Contains(t, outcome.Message, "gateway timeout")

	provider.mu.Lock()
	assert.Zero(t, provider.checks)
	provider.mu.Unlock()

	tx, err := h.ledger.GetTransactionByOrderID(context.Background(), "ORD-T")
	require.NoError(t, err)
	assert.Nil(t, tx)

	_, err = h.engine.Start(context.Background(), pushRequest("ORD-T"), nil)
	assert.NoError(t, err)
}

func TestCancelEndsLiveSession(t *testing.T) {
	ctx := context.Background()
	provider := mock.New(mock.WithStatusSequence("ORD-K", "pending"))
	h := newHarness(t, provider, clock.New(), fastUSSD(10*time.Millisecond, time.Minute))

	session, err := h.engine.Start(ctx, pushRequest("ORD-K"), nil)
	require.NoError(t, err)

	_, err = h.engine.Cancel("ORD-K")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	outcome, err := session.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, outcome.State)
	assert.Equal(t, MessageOperator, outcome.Message)

	found, err := h.engine.Session("ORD-K")
	require.NoError(t, err)
	assert.Same(t, session, found)

	_, err = h.engine.Cancel("ORD-NONE")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPushReturnsWhenCallerGivesUp(t *testing.T) {
	provider := mock.New(mock.WithStatusSequence("ORD-W", "pending"))
	h := newHarness(t, provider, clock.New(), fastUSSD(10*time.Millisecond, time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	outcome, err := h.engine.Push(ctx, pushRequest("ORD-W"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, outcome.State.IsTerminal())

	session, err := h.engine.Session("ORD-W")
	require.NoError(t, err)
	assert.False(t, session.Snapshot().State.IsTerminal())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, h.engine.Stop(stopCtx))
	assert.Equal(t, StateCancelled, session.Snapshot().State)
	assert.Equal(t, MessageShutdown, session.Snapshot().Message)

	_, err = h.engine.Start(context.Background(), pushRequest("ORD-Z"), nil)
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestStartValidatesRequest(t *testing.T) {
	h := newHarness(t, mock.New(), clock.NewAutoClock(time.Unix(0, 0)), fastUSSD(5*time.Second, time.Minute))

	req := pushRequest("ORD-V")
	req.Phone = " "
	_, err := h.engine.Start(context.Background(), req, nil)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPhone)

	req = pushRequest("ORD-V")
	req.Amount = decimal.Zero
	_, err = h.engine.Start(context.Background(), req, nil)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = h.engine.StartWith(context.Background(), paymentdomain.ProviderStripe, pushRequest("ORD-V"), nil)
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotConfigured)
}
