package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBufferSize     = 256
	defaultPublishTimeout = 5 * time.Second
)

// Dispatcher buffers events and hands them to a Publisher from a single
// goroutine. Notify never blocks; a full buffer drops the event.
type Dispatcher struct {
	log       *zap.Logger
	publisher Publisher
	now       func() time.Time

	mu      sync.RWMutex
	events  chan Event
	closed  bool
	started bool
	done    chan struct{}
}

func NewDispatcher(log *zap.Logger, publisher Publisher, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	return &Dispatcher{
		log:       log.Named("notify.dispatcher"),
		publisher: publisher,
		now:       time.Now,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

// Notify enqueues event. It fills in the id and timestamp when missing.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("dispatcher stopped, dropping event", zap.String("type", event.Type), zap.String("order_id", event.OrderID))
		return
	}
	select {
	case d.events <- event:
	default:
		d.log.Warn("notification buffer full, dropping event", zap.String("type", event.Type), zap.String("order_id", event.OrderID))
	}
}

func (d *Dispatcher) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	d.started = true
	go d.run()
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.log.Error("publish notification failed",
				zap.String("type", event.Type),
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Stop drains what is buffered, then closes the publisher.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	close(d.events)
	d.mu.Unlock()

	if started {
		select {
		case <-d.done:
		case <-ctx.Done():
			d.log.Warn("notification drain interrupted", zap.Error(ctx.Err()))
		}
	}
	return d.publisher.Close()
}

var _ Notifier = (*Dispatcher)(nil)
