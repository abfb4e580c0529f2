package notify

import (
	"context"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCancelled = "payment.cancelled"
	EventPushTimedOut     = "payment.push_timed_out"
)

// Event is a payment outcome pushed to the POS front end and other listeners.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Provider   string    `json:"provider"`
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status,omitempty"`
	State      string    `json:"state,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventTypeFor returns the event type of a terminal status, or "" otherwise.
func EventTypeFor(status paymentdomain.PaymentStatus) string {
	switch status {
	case paymentdomain.StatusSuccess:
		return EventPaymentSucceeded
	case paymentdomain.StatusFailed:
		return EventPaymentFailed
	case paymentdomain.StatusCancelled:
		return EventPaymentCancelled
	default:
		return ""
	}
}

// RoutingKey is the AMQP routing key of e.
func (e Event) RoutingKey() string {
	return strings.TrimSpace(e.Type)
}

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Publisher delivers a single event to its destination.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
