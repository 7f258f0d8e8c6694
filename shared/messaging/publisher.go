package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	HeaderOrderID       = "order_id"
	HeaderEventType     = "event_type"
	HeaderService       = "service"
	HeaderSchemaVersion = "x-schema-version"
	HeaderRetryCount    = "x-retry-count"
)

// EventPublisher publishes typed events to the events exchange.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Publisher sends persistent messages on a confirm-mode channel and waits for
// the broker to take responsibility for each one.
type Publisher struct {
	client *RabbitMQClient

	mu       sync.Mutex
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	closed   chan *amqp.Error
}

func NewPublisher(client *RabbitMQClient) *Publisher {
	return &Publisher{
		client: client,
	}
}

func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("refusing to publish invalid event: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event serialization error: %w", err)
	}

	routingKey := events.RoutingKey(event.Source(), event.Type())
	now := time.Now().UTC()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    now,
		Type:         string(event.Type()),
		AppId:        event.Source(),
		Headers: amqp.Table{
			HeaderOrderID:       strconv.FormatInt(event.OrderKey(), 10),
			HeaderEventType:     string(event.Type()),
			HeaderService:       event.Source(),
			HeaderSchemaVersion: int32(events.SchemaVersion),
			HeaderRetryCount:    int32(0),
		},
	}

	if err := p.publish(ctx, p.client.Config().Exchange, routingKey, msg); err != nil {
		return fmt.Errorf("event publish error (%s): %w", routingKey, err)
	}

	logx.WithContext(ctx).Infow("Event published",
		logx.Field("routing_key", routingKey),
		logx.Field("order_id", event.OrderKey()),
		logx.Field("message_id", msg.MessageId))
	return nil
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	if err := p.channel.Publish(exchange, routingKey, false, false, msg); err != nil {
		p.resetChannel()
		return err
	}

	timeout := p.client.Config().PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.resetChannel()
			return fmt.Errorf("publisher channel closed before confirmation")
		}
		if !confirm.Ack {
			return fmt.Errorf("broker rejected message %s", msg.MessageId)
		}
		return nil
	case <-timer.C:
		// a late confirm would be matched to the next publish
		p.resetChannel()
		return fmt.Errorf("publish confirmation timed out after %s", timeout)
	case <-ctx.Done():
		p.resetChannel()
		return ctx.Err()
	}
}

func (p *Publisher) ensureChannel() error {
	if p.channel != nil {
		select {
		case <-p.closed:
			p.channel = nil
		default:
			return nil
		}
	}

	ch, err := p.client.NewChannel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("confirm mode error: %w", err)
	}

	p.channel = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.closed = ch.NotifyClose(make(chan *amqp.Error, 1))
	return nil
}

func (p *Publisher) resetChannel() {
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = nil
}

// Close releases the publishing channel.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetChannel()
}
