package ussd

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/config"
	ledgerdomain "github.com/smallbiznis/paygate/internal/ledger/domain"
	"github.com/smallbiznis/paygate/internal/notify"
	obscontext "github.com/smallbiznis/paygate/internal/observability/context"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrAlreadyInFlight = errors.New("already_in_flight")
	ErrSessionNotFound = errors.New("session_not_found")
	ErrEngineStopped   = errors.New("engine_stopped")
)

// finished sessions stay visible to Session for this long.
const sessionRetention = 15 * time.Minute

// Providers resolves the push-capable provider and its credentials.
type Providers interface {
	ActiveProvider() paymentdomain.ProviderID
	PushProvider(id paymentdomain.ProviderID) (paymentdomain.PushProvider, error)
	Credentials(id paymentdomain.ProviderID) paymentdomain.Credentials
}

type Params struct {
	fx.In

	Log            *zap.Logger
	Clock          clock.Clock
	Providers      Providers
	Ledger         ledgerdomain.Service
	Guard          Guard
	Holder         *config.PaymentsConfigHolder `optional:"true"`
	Notifier       notify.Notifier              `optional:"true"`
	PaymentMetrics *obsmetrics.PaymentMetrics   `optional:"true"`
}

// Engine triggers USSD pushes and polls each one to a terminal state.
type Engine struct {
	log       *zap.Logger
	clock     clock.Clock
	providers Providers
	ledger    ledgerdomain.Service
	guard     Guard
	holder    *config.PaymentsConfigHolder
	notifier  notify.Notifier
	metrics   *obsmetrics.PaymentMetrics

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool
	loops    sync.WaitGroup
}

func NewEngine(p Params) *Engine {
	guard := p.Guard
	if guard == nil {
		guard = NewMemoryGuard()
	}
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Engine{
		log:       p.Log.Named("ussd.engine"),
		clock:     c,
		providers: p.Providers,
		ledger:    p.Ledger,
		guard:     guard,
		holder:    p.Holder,
		notifier:  p.Notifier,
		metrics:   p.PaymentMetrics,
		sessions:  map[string]*Session{},
	}
}

func (e *Engine) settings() config.USSDConfig {
	if e.holder == nil {
		return config.DefaultPaymentsConfig().USSD
	}
	return e.holder.Get().USSD
}

// Start triggers a push through the active provider.
func (e *Engine) Start(ctx context.Context, req paymentdomain.PushRequest, cb Callback) (*Session, error) {
	return e.StartWith(ctx, "", req, cb)
}

// StartWith triggers a push through id, or the active provider when id is
// empty. The trigger runs synchronously; polling continues in the background.
// A trigger failure returns a session that has already ended in FAILED.
func (e *Engine) StartWith(ctx context.Context, id paymentdomain.ProviderID, req paymentdomain.PushRequest, cb Callback) (*Session, error) {
	req, err := normalizeRequest(req, e.clock.Now())
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = e.providers.ActiveProvider()
	}
	if id == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	provider, err := e.providers.PushProvider(id)
	if err != nil {
		return nil, err
	}

	cfg := e.settings()
	release, err := e.guard.Acquire(ctx, req.OrderID, cfg.TriggerTimeout+cfg.Timeout+cfg.PollInterval)
	if err != nil {
		if errors.Is(err, ErrAlreadyInFlight) {
			e.metrics.IncGuardRejection(string(id))
		}
		return nil, err
	}

	session := newSession(req.OrderID, id, e.clock.Now())
	if err := e.register(session); err != nil {
		release(context.WithoutCancel(ctx))
		return nil, err
	}
	e.metrics.IncInFlight()

	ctx = obscontext.WithOrderID(obscontext.WithProvider(ctx, string(id)), req.OrderID)
	log := e.log.With(zap.String("provider", string(id)), zap.String("order_id", req.OrderID))
	creds := e.providers.Credentials(id)

	triggerCtx, cancelTrigger := context.WithTimeout(ctx, cfg.TriggerTimeout)
	ack := provider.TriggerPush(triggerCtx, req, creds)
	cancelTrigger()

	if !ack.Accepted || ack.Err != nil {
		kind := string(paymentdomain.KindOf(ack.Err))
		if kind == "" {
			kind = "rejected"
		}
		e.metrics.IncTriggerFailure(string(id), kind)
		log.Warn("ussd push trigger failed", zap.String("kind", kind), zap.String("message", ack.Message), zap.Error(ack.Err))
		e.complete(ctx, log, session, release, StateFailed, "", triggerMessage(ack))
		e.loops.Done()
		return session, nil
	}

	session.setState(StateSent)
	log.Info("ussd push sent", zap.String("message", ack.Message))

	_, _, lerr := e.ledger.UpsertTransaction(ctx, ledgerdomain.TransactionUpsert{
		Provider: id,
		OrderID:  req.OrderID,
		Status:   paymentdomain.StatusPending,
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: map[string]any{"channel": "ussd_push", "phone": req.Phone},
	})
	if lerr != nil {
		log.Error("record pending push", zap.Error(lerr))
	}

	loopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeout+cfg.PollInterval)
	session.attach(cancel)
	go func() {
		defer e.loops.Done()
		defer cancel()
		e.poll(loopCtx, log, session, provider, creds, cfg, cb, release)
	}()
	return session, nil
}

// Push starts a session and waits for its outcome. When ctx ends first,
// ctx.Err() is returned and polling continues to its own bound.
func (e *Engine) Push(ctx context.Context, req paymentdomain.PushRequest, cb Callback) (Outcome, error) {
	session, err := e.Start(ctx, req, cb)
	if err != nil {
		return Outcome{}, err
	}
	return session.Wait(ctx)
}

// Cancel stops the live session of orderID. The session ends in CANCELLED.
func (e *Engine) Cancel(orderID string) (*Session, error) {
	session, err := e.Session(orderID)
	if err != nil {
		return nil, err
	}
	if session.Snapshot().State.IsTerminal() {
		return session, nil
	}
	session.requestCancel(MessageOperator)
	return session, nil
}

// Session returns the live or recently finished session of orderID.
func (e *Engine) Session(orderID string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session, ok := e.sessions[strings.TrimSpace(orderID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Stop cancels live sessions and waits for their loops, bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	live := make([]*Session, 0, len(e.sessions))
	for _, session := range e.sessions {
		live = append(live, session)
	}
	e.mu.Unlock()

	for _, session := range live {
		session.requestCancel(MessageShutdown)
	}

	done := make(chan struct{})
	go func() {
		e.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) register(session *Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}
	cutoff := e.clock.Now().Add(-sessionRetention)
	for orderID, existing := range e.sessions {
		if existing.endedBefore(cutoff) {
			delete(e.sessions, orderID)
		}
	}
	e.sessions[session.orderID] = session
	e.loops.Add(1)
	return nil
}

// poll waits one interval, queries, and repeats until a terminal status is
// seen or the timeout has elapsed.
func (e *Engine) poll(
	ctx context.Context,
	log *zap.Logger,
	session *Session,
	provider paymentdomain.PushProvider,
	creds paymentdomain.Credentials,
	cfg config.USSDConfig,
	cb Callback,
	release Release,
) {
	session.setState(StatePolling)
	start := e.clock.Now()
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			e.stopLoop(ctx, log, session, release)
			return
		case <-e.clock.After(cfg.PollInterval):
		}

		attempt++
		reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		result := provider.CheckStatus(reqCtx, session.orderID, creds)
		cancel()

		update := Update{OrderID: session.orderID, Attempt: attempt, Payload: result.Raw, Err: result.Err}
		if result.Success {
			if order, ok := result.Find(session.orderID); ok {
				update.RawStatus = order.RawStatus
				update.Status = order.Status
			}
		}
		session.observe(attempt, update.Status)
		if cb != nil {
			cb(update)
		}
		if update.Err != nil {
			log.Debug("ussd status query failed", zap.Int("attempt", attempt), zap.Error(update.Err))
		}

		switch update.Status {
		case paymentdomain.StatusSuccess:
			e.complete(ctx, log, session, release, StateCompleted, update.Status, "payment confirmed")
			return
		case paymentdomain.StatusFailed:
			e.complete(ctx, log, session, release, StateFailed, update.Status, MessageDeclined)
			return
		case paymentdomain.StatusCancelled:
			e.complete(ctx, log, session, release, StateCancelled, update.Status, MessageCancelled)
			return
		}

		if e.clock.Now().Sub(start) >= cfg.Timeout {
			e.complete(ctx, log, session, release, StateTimeout, "", MessageTimeout)
			return
		}
	}
}

func (e *Engine) stopLoop(ctx context.Context, log *zap.Logger, session *Session, release Release) {
	if reason := session.cancelledWith(); reason != "" {
		e.complete(ctx, log, session, release, StateCancelled, "", reason)
		return
	}
	e.complete(ctx, log, session, release, StateTimeout, "", MessageTimeout)
}

// complete records the terminal state, reconciles the ledger, notifies and
// frees the guard.
func (e *Engine) complete(
	ctx context.Context,
	log *zap.Logger,
	session *Session,
	release Release,
	state State,
	status paymentdomain.PaymentStatus,
	message string,
) {
	ctx = context.WithoutCancel(ctx)
	if !session.finish(state, message, e.clock.Now()) {
		return
	}
	defer session.close()
	defer release(ctx)
	defer e.metrics.DecInFlight()

	outcome := session.Snapshot()
	elapsed := time.Duration(0)
	if outcome.EndedAt != nil {
		elapsed = outcome.EndedAt.Sub(outcome.StartedAt)
	}
	e.metrics.ObservePushOutcome(string(outcome.Provider), string(state), outcome.Attempts, elapsed)

	if status.IsTerminal() {
		_, _, err := e.ledger.UpsertTransaction(ctx, ledgerdomain.TransactionUpsert{
			Provider: outcome.Provider,
			OrderID:  outcome.OrderID,
			Status:   status,
		})
		if err != nil {
			log.Error("reconcile push outcome", zap.Error(err))
		}
	}

	if e.notifier != nil {
		eventType := notify.EventTypeFor(status)
		switch {
		case state == StateTimeout:
			eventType = notify.EventPushTimedOut
		case state == StateFailed && eventType == "":
			eventType = notify.EventPaymentFailed
		}
		if eventType != "" {
			e.notifier.Notify(ctx, notify.Event{
				Type:     eventType,
				Provider: string(outcome.Provider),
				OrderID:  outcome.OrderID,
				Status:   string(outcome.Status),
				State:    string(state),
				Attempts: outcome.Attempts,
				Message:  message,
			})
		}
	}

	log.Info("ussd push finished",
		zap.String("state", string(state)),
		zap.Int("attempts", outcome.Attempts),
		zap.Duration("elapsed", elapsed),
	)
}

func normalizeRequest(req paymentdomain.PushRequest, now time.Time) (paymentdomain.PushRequest, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.Phone == "" {
		return req, paymentdomain.ErrInvalidPhone
	}
	if !req.Amount.IsPositive() {
		return req, paymentdomain.ErrInvalidAmount
	}
	if req.Currency == "" {
		req.Currency = paymentdomain.DefaultCurrency
	}
	if req.OrderID == "" {
		req.OrderID = "USSD-" + ulid.Make().String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = now
	}
	return req, nil
}

func triggerMessage(ack paymentdomain.PushAck) string {
	if msg := strings.TrimSpace(ack.Message); msg != "" {
		return "payment request could not be sent: " + msg
	}
	if ack.Err != nil {
		return "payment request could not be sent: " + ack.Err.Error()
	}
	return "payment request could not be sent"
}
