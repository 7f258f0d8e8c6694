package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/streadway/amqp"
	"github.com/zeromicro/go-zero/core/logx"
)

// Delivery is the broker-independent view of a received message.
type Delivery struct {
	MessageID     string
	Type          string
	Body          []byte
	OrderID       string
	Redelivered   bool
	RetryCount    int
	SchemaVersion int
}

// Handler processes one delivery. A nil error acknowledges the message, an
// error wrapped by Permanent (or events.ErrMalformed) dead-letters it, an error
// wrapped by NotReady is deferred without counting as a retry and any other
// error schedules a retry.
type Handler func(ctx context.Context, d Delivery) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as never retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, events.ErrMalformed)
}

type notReadyError struct {
	err error
}

func (e *notReadyError) Error() string { return e.err.Error() }
func (e *notReadyError) Unwrap() error { return e.err }

// NotReady marks a message that arrived before the state it depends on. It is
// redelivered after the retry delay for as long as it takes, and never
// dead-lettered.
func NotReady(err error) error {
	if err == nil {
		return nil
	}
	return &notReadyError{err: err}
}

func IsNotReady(err error) bool {
	var nr *notReadyError
	return errors.As(err, &nr)
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionRetryLater
	dispositionDeadLetter
	dispositionDefer
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	case dispositionRetryLater:
		return "retry"
	case dispositionDeadLetter:
		return "dead-letter"
	case dispositionDefer:
		return "defer"
	default:
		return "unknown"
	}
}

func decide(err error, retryCount, maxRetries int) disposition {
	switch {
	case err == nil:
		return dispositionAck
	case IsPermanent(err):
		return dispositionDeadLetter
	case IsNotReady(err):
		return dispositionDefer
	case maxRetries == 0:
		return dispositionRequeue
	case retryCount >= maxRetries:
		return dispositionDeadLetter
	default:
		return dispositionRetryLater
	}
}

// republishFunc sends a copy of a message straight to a queue through the
// default exchange, so a retry never fans out to other consumers again.
type republishFunc func(queue string, msg amqp.Publishing) error

type Consumer struct {
	client *RabbitMQClient
	config ConsumerConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewConsumer(client *RabbitMQClient, config ConsumerConfig) *Consumer {
	return &Consumer{
		client: client,
		config: config.withDefaults(),
		sleep:  sleepContext,
	}
}

// Run consumes until ctx is cancelled, resubscribing whenever the channel or
// connection drops.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			logx.Infof("Consumer is stopped: %s", c.config.Name)
			return nil
		}
		if err != nil {
			logx.Errorf("Consumer %s subscription error: %v", c.config.Name, err)
		} else {
			logx.Errorf("Consumer %s delivery channel closed, resubscribing", c.config.Name)
		}
		if err := c.sleep(ctx, c.config.RetryDelay); err != nil {
			return nil
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context, handler Handler) error {
	ch, err := c.client.NewChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.client.DeclareWorkQueue(ch, c.config); err != nil {
		return err
	}

	if err := ch.Qos(c.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos error: %w", err)
	}

	messages, err := ch.Consume(
		c.config.Queue, // queue
		c.config.Name,  // consumer
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("consume start error: %w", err)
	}

	logx.Infof("Consuming events on queue: %s (prefetch=%d, concurrency=%d, max_retries=%d)",
		c.config.Queue, c.config.Prefetch, c.config.Concurrency, c.config.MaxRetries)

	republish := func(queue string, msg amqp.Publishing) error {
		return ch.Publish("", queue, false, false, msg)
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// stops delivery; in-flight handlers still ack on this channel
			ch.Cancel(c.config.Name, false)
		case <-stop:
		}
	}()
	defer close(stop)

	var wg sync.WaitGroup
	for i := 0; i < c.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				c.handleMessage(ctx, msg, handler, republish)
			}
		}()
	}
	wg.Wait()

	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery, handler Handler, republish republishFunc) {
	d := toDelivery(msg)
	logger := logx.WithContext(ctx).WithFields(
		logx.Field("queue", c.config.Queue),
		logx.Field("message_id", d.MessageID),
		logx.Field("order_id", d.OrderID),
		logx.Field("retry_count", d.RetryCount),
	)

	err := c.invoke(ctx, handler, d)
	disp := decide(err, d.RetryCount, c.config.MaxRetries)

	switch disp {
	case dispositionAck:
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Errorf("Ack error: %v", ackErr)
		}
		return

	case dispositionDeadLetter:
		if IsPermanent(err) {
			logger.Errorf("Poison message dropped to %s (%d bytes): %v",
				c.config.DeadLetterQueue(), len(d.Body), err)
		} else {
			logger.Errorf("Max retry is reached, message sent to %s: %v",
				c.config.DeadLetterQueue(), err)
		}
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Errorf("Nack error: %v", nackErr)
		}
		return

	case dispositionRequeue:
		logger.Errorf("Event process error, requeueing: %v", err)
		_ = c.sleep(ctx, c.config.RetryDelay)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Errorf("Nack error: %v", nackErr)
		}
		return

	case dispositionDefer:
		logger.Infof("Event deferred: %v", err)
		c.requeueCopy(ctx, msg, d.RetryCount, republish, logger)

	case dispositionRetryLater:
		logger.Errorf("Event process error, retry %d/%d: %v", d.RetryCount+1, c.config.MaxRetries, err)
		c.requeueCopy(ctx, msg, d.RetryCount+1, republish, logger)
	}
}

// requeueCopy waits the retry delay, puts a copy carrying retryCount back on
// the queue and acks the original. The original is requeued when that fails.
func (c *Consumer) requeueCopy(ctx context.Context, msg amqp.Delivery, retryCount int, republish republishFunc, logger logx.Logger) {
	if sleepErr := c.sleep(ctx, c.config.RetryDelay); sleepErr != nil {
		_ = msg.Nack(false, true)
		return
	}
	if pubErr := republish(c.config.Queue, retryCopy(msg, retryCount)); pubErr != nil {
		logger.Errorf("Retry publish error: %v", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Errorf("Ack error after retry publish: %v", ackErr)
	}
}

// invoke shields the consumer loop from handler panics; a panic is retried
// like any other transient failure.
func (c *Consumer) invoke(ctx context.Context, handler Handler, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, d)
}

func retryCopy(msg amqp.Delivery, retryCount int) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(retryCount)

	return amqp.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageId,
		Timestamp:    msg.Timestamp,
		Type:         msg.Type,
		AppId:        msg.AppId,
		Headers:      headers,
	}
}

func toDelivery(msg amqp.Delivery) Delivery {
	return Delivery{
		MessageID:     msg.MessageId,
		Type:          msg.Type,
		Body:          msg.Body,
		OrderID:       headerString(msg.Headers, HeaderOrderID),
		Redelivered:   msg.Redelivered,
		RetryCount:    headerInt(msg.Headers, HeaderRetryCount),
		SchemaVersion: headerInt(msg.Headers, HeaderSchemaVersion),
	}
}

func headerString(headers amqp.Table, key string) string {
	switch v := headers[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func headerInt(headers amqp.Table, key string) int {
	switch v := headers[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
