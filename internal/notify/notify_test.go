package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	closed bool
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(zap.NewNop(), pub, 4)
	require.NoError(t, d.Start(context.Background()))

	d.Notify(context.Background(), Event{Type: EventPaymentSucceeded, OrderID: "A"})
	d.Notify(context.Background(), Event{Type: EventPaymentFailed, OrderID: "B"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	events := pub.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "A", events[0].OrderID)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].OccurredAt.IsZero())
	assert.True(t, pub.closed)

	d.Notify(context.Background(), Event{Type: EventPaymentFailed, OrderID: "late"})
	assert.Len(t, pub.snapshot(), 2)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(zap.NewNop(), pub, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Notify(context.Background(), Event{OrderID: "1"})
		d.Notify(context.Background(), Event{OrderID: "2"})
		d.Notify(context.Background(), Event{OrderID: "3"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "1", events[0].OrderID)
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, msg)
	return args.Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestAMQPPublisherRoutesByType(t *testing.T) {
	ch := &mockChannel{}
	ch.On("PublishWithContext", "paygate.payments", EventPaymentSucceeded, mock.MatchedBy(func(msg amqp.Publishing) bool {
		var event Event
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			return false
		}
		return msg.DeliveryMode == amqp.Persistent && msg.ContentType == "application/json" && event.OrderID == "ORD-1"
	})).Return(nil).Once()
	ch.On("Close").Return(nil).Once()

	p := newAMQPPublisher(ch, "paygate.payments", zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), Event{ID: "e1", Type: EventPaymentSucceeded, OrderID: "ORD-1"}))
	require.NoError(t, p.Close())
	ch.AssertExpectations(t)
}

func TestEventTypeFor(t *testing.T) {
	assert.Equal(t, EventPaymentSucceeded, EventTypeFor(paymentdomain.StatusSuccess))
	assert.Equal(t, EventPaymentCancelled, EventTypeFor(paymentdomain.StatusCancelled))
	assert.Equal(t, "", EventTypeFor(paymentdomain.StatusPending))
}
