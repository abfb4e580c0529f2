package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/paygate/internal/config"
	"go.uber.org/zap"
)

const defaultExchange = "paygate.payments"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends events to a durable topic exchange keyed by event type.
type AMQPPublisher struct {
	log      *zap.Logger
	exchange string
	conn     *amqp.Connection
	ch       amqpChannel
}

func NewAMQPPublisher(cfg config.AMQPConfig, log *zap.Logger) (*AMQPPublisher, error) {
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = defaultExchange
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := newAMQPPublisher(ch, exchange, log)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string, log *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		log:      log.Named("notify.amqp"),
		exchange: exchange,
		ch:       ch,
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, event.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         event.Type,
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("notify.log")}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.log.Info("payment notification",
		zap.String("id", event.ID),
		zap.String("type", event.Type),
		zap.String("provider", event.Provider),
		zap.String("order_id", event.OrderID),
		zap.String("status", event.Status),
		zap.String("state", event.State),
		zap.Int("attempts", event.Attempts),
		zap.String("message", event.Message),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
