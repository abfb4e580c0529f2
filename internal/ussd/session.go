package ussd

import (
	"context"
	"sync"
	"time"

	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

// State is the lifecycle position of a push session.
type State string

const (
	StateInitiating State = "INITIATING"
	StateSent       State = "SENT"
	StatePolling    State = "POLLING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateCancelled  State = "CANCELLED"
	StateTimeout    State = "TIMEOUT"
)

func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimeout:
		return true
	default:
		return false
	}
}

const (
	MessageTimeout   = "payment not confirmed in time, ask the customer to retry"
	MessageDeclined  = "payment was declined"
	MessageCancelled = "payment was cancelled"
	MessageOperator  = "payment check cancelled by operator"
	MessageShutdown  = "payment check interrupted by shutdown"
)

// Update is reported to the caller after every status query.
type Update struct {
	OrderID   string                      `json:"order_id"`
	Attempt   int                         `json:"attempt"`
	RawStatus string                      `json:"raw_status,omitempty"`
	Status    paymentdomain.PaymentStatus `json:"status,omitempty"`
	Payload   map[string]any              `json:"payload,omitempty"`
	Err       error                       `json:"-"`
}

// Callback receives poll updates in order. It runs on the poll goroutine.
type Callback func(Update)

// Outcome is the final or current view of a session.
type Outcome struct {
	OrderID   string                      `json:"order_id"`
	Provider  paymentdomain.ProviderID    `json:"provider"`
	State     State                       `json:"state"`
	Status    paymentdomain.PaymentStatus `json:"status,omitempty"`
	Attempts  int                         `json:"attempts"`
	Message   string                      `json:"message,omitempty"`
	StartedAt time.Time                   `json:"started_at"`
	EndedAt   *time.Time                  `json:"ended_at,omitempty"`
}

// Session tracks one USSD push from trigger to its terminal state.
type Session struct {
	orderID  string
	provider paymentdomain.ProviderID

	mu        sync.RWMutex
	state     State
	status    paymentdomain.PaymentStatus
	attempts  int
	message   string
	startedAt time.Time
	endedAt   time.Time

	cancelMu     sync.Mutex
	cancel       context.CancelFunc
	cancelReason string

	done     chan struct{}
	doneOnce sync.Once
}

func newSession(orderID string, provider paymentdomain.ProviderID, now time.Time) *Session {
	return &Session{
		orderID:   orderID,
		provider:  provider,
		state:     StateInitiating,
		startedAt: now,
		done:      make(chan struct{}),
	}
}

func (s *Session) OrderID() string { return s.orderID }

func (s *Session) Provider() paymentdomain.ProviderID { return s.provider }

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Outcome{
		OrderID:   s.orderID,
		Provider:  s.provider,
		State:     s.state,
		Status:    s.status,
		Attempts:  s.attempts,
		Message:   s.message,
		StartedAt: s.startedAt,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		out.EndedAt = &ended
	}
	return out
}

// Wait blocks until the session ends or ctx is done. When ctx ends first the
// current snapshot is returned with ctx.Err(); the session keeps running.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	s.state = state
}

func (s *Session) observe(attempt int, status paymentdomain.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = attempt
	if status != "" {
		s.status = status
	}
}

// finish moves the session to a terminal state. It reports false when the
// session had already ended. Waiters are woken by close.
func (s *Session) finish(state State, message string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return false
	}
	s.state = state
	s.message = message
	s.endedAt = now
	return true
}

func (s *Session) close() {
	s.doneOnce.Do(func() { close(s.done) })
}

// attach installs the poll loop's cancel func. A cancel requested before the
// loop started is applied immediately.
func (s *Session) attach(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	s.cancel = cancel
	if s.cancelReason != "" {
		cancel()
	}
}

func (s *Session) requestCancel(reason string) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancelReason == "" {
		s.cancelReason = reason
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) cancelledWith() string {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	return s.cancelReason
}

func (s *Session) endedBefore(cutoff time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsTerminal() && s.endedAt.Before(cutoff)
}
